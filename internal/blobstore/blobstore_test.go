package blobstore_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voiceloom/internal/blobstore"
)

func TestFSRoundTrip(t *testing.T) {
	store, err := blobstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	key := "u1/job-1/source.mp4"
	if err := store.Put(ctx, key, strings.NewReader("media bytes")); err != nil {
		t.Fatal(err)
	}

	obj, err := store.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(obj)
	obj.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "media bytes" {
		t.Fatalf("content = %q", data)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, blobstore.ErrNotExist) {
		t.Fatalf("get after delete = %v, want ErrNotExist", err)
	}
}

func TestFSOverwriteReplacesObject(t *testing.T) {
	store, err := blobstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "a/b", strings.NewReader("first")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "a/b", strings.NewReader("second")); err != nil {
		t.Fatal(err)
	}

	obj, err := store.Get(ctx, "a/b")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Close()
	data, _ := io.ReadAll(obj)
	if string(data) != "second" {
		t.Fatalf("content = %q, want second", data)
	}
}

func TestFSRejectsEscapingKeys(t *testing.T) {
	store, err := blobstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, key := range []string{"", "../outside", "/etc/passwd", "a/../../b"} {
		if err := store.Put(ctx, key, strings.NewReader("x")); err == nil {
			t.Fatalf("key %q was accepted", key)
		}
	}
}

func TestDownloadFileWritesLocalCopy(t *testing.T) {
	store, err := blobstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "u1/job-1/audio.wav", strings.NewReader("pcm")); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "audio.wav")
	if err := blobstore.DownloadFile(ctx, store, "u1/job-1/audio.wav", dest); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "pcm" {
		t.Fatalf("content = %q", data)
	}
}

func TestSignerRoundTrip(t *testing.T) {
	signer, err := blobstore.NewSigner("shared-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	link := signer.Sign("u1/job-1/output.mp4", now)
	exp, sig := parseLink(t, link)

	if err := signer.Verify("u1/job-1/output.mp4", exp, sig, now.Add(30*time.Minute)); err != nil {
		t.Fatalf("verify fresh link: %v", err)
	}
	if err := signer.Verify("u1/job-1/output.mp4", exp, sig, now.Add(2*time.Hour)); !errors.Is(err, blobstore.ErrLinkExpired) {
		t.Fatalf("verify stale link = %v, want ErrLinkExpired", err)
	}
	if err := signer.Verify("u1/job-2/output.mp4", exp, sig, now); !errors.Is(err, blobstore.ErrBadSig) {
		t.Fatalf("verify wrong key = %v, want ErrBadSig", err)
	}
	if err := signer.Verify("u1/job-1/output.mp4", exp, "deadbeef", now); !errors.Is(err, blobstore.ErrBadSig) {
		t.Fatalf("verify forged sig = %v, want ErrBadSig", err)
	}
}

func parseLink(t *testing.T, link string) (exp, sig string) {
	t.Helper()
	_, query, ok := strings.Cut(link, "?")
	if !ok {
		t.Fatalf("link %q has no query", link)
	}
	for _, pair := range strings.Split(query, "&") {
		k, v, _ := strings.Cut(pair, "=")
		switch k {
		case "exp":
			exp = v
		case "sig":
			sig = v
		}
	}
	if exp == "" || sig == "" {
		t.Fatalf("link %q missing exp or sig", link)
	}
	return exp, sig
}
