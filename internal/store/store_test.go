package store_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voiceloom/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustUser(t *testing.T, s *store.Store, uid string, tier store.Tier, credits float64) *store.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), uid, tier, credits)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func mustReserve(t *testing.T, s *store.Store, uid, jobID string, cost float64) *store.Job {
	t.Helper()
	job, err := s.ReserveCredits(context.Background(), store.ReserveParams{
		UID:   uid,
		JobID: jobID,
		Kind:  store.KindVoice,
		Cost:  cost,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return job
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestReserveHoldsCredits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", store.TierFree, 2000)

	job := mustReserve(t, s, "u1", "job-1", 10)
	if !job.CreditsReserved || job.CreditsConfirmed || job.CreditsReleased {
		t.Fatalf("unexpected reservation flags: %+v", job)
	}
	if job.Status != store.StatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}

	user, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(user.Credits, 2000) || !almostEqual(user.PendingCredits, 10) {
		t.Fatalf("balances = %.2f/%.2f, want 2000/10", user.Credits, user.PendingCredits)
	}
	if !almostEqual(user.Available(), 1990) {
		t.Fatalf("available = %.2f, want 1990", user.Available())
	}
}

func TestReserveRejectsDuplicateJob(t *testing.T) {
	s := newTestStore(t)
	mustUser(t, s, "u1", store.TierFree, 100)
	mustReserve(t, s, "u1", "job-1", 10)

	_, err := s.ReserveCredits(context.Background(), store.ReserveParams{
		UID: "u1", JobID: "job-1", Kind: store.KindVoice, Cost: 10,
	})
	if !errors.Is(err, store.ErrJobExists) {
		t.Fatalf("err = %v, want ErrJobExists", err)
	}

	user, _ := s.GetUser(context.Background(), "u1")
	if !almostEqual(user.PendingCredits, 10) {
		t.Fatalf("pending = %.2f after failed duplicate, want 10", user.PendingCredits)
	}
}

func TestReserveCountsPendingAgainstBalance(t *testing.T) {
	s := newTestStore(t)
	mustUser(t, s, "u1", store.TierFree, 15)
	mustReserve(t, s, "u1", "job-1", 10)

	_, err := s.ReserveCredits(context.Background(), store.ReserveParams{
		UID: "u1", JobID: "job-2", Kind: store.KindVoice, Cost: 10,
	})
	if !errors.Is(err, store.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
}

func TestConfirmSettlesActualCost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", store.TierFree, 2000)
	mustReserve(t, s, "u1", "job-1", 10)

	result, err := s.ConfirmCredits(ctx, "job-1", 7)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.AlreadyConfirmed || !almostEqual(result.Charged, 7) {
		t.Fatalf("unexpected result: %+v", result)
	}

	user, _ := s.GetUser(ctx, "u1")
	if !almostEqual(user.Credits, 1993) || !almostEqual(user.PendingCredits, 0) {
		t.Fatalf("balances = %.2f/%.2f, want 1993/0", user.Credits, user.PendingCredits)
	}
	if user.TotalVoicesGenerated != 1 {
		t.Fatalf("usage counter = %d, want 1", user.TotalVoicesGenerated)
	}

	// Redelivered confirmation must not charge twice.
	again, err := s.ConfirmCredits(ctx, "job-1", 7)
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if !again.AlreadyConfirmed {
		t.Fatal("expected AlreadyConfirmed on redelivery")
	}
	user, _ = s.GetUser(ctx, "u1")
	if !almostEqual(user.Credits, 1993) || user.TotalVoicesGenerated != 1 {
		t.Fatalf("balances changed on redelivery: %.2f / %d", user.Credits, user.TotalVoicesGenerated)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", store.TierFree, 100)
	mustReserve(t, s, "u1", "job-1", 10)

	result, err := s.ReleaseCredits(ctx, "job-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !result.Released || !almostEqual(result.Amount, 10) {
		t.Fatalf("unexpected result: %+v", result)
	}

	user, _ := s.GetUser(ctx, "u1")
	if !almostEqual(user.PendingCredits, 0) {
		t.Fatalf("pending = %.2f, want 0", user.PendingCredits)
	}

	again, err := s.ReleaseCredits(ctx, "job-1")
	if err != nil {
		t.Fatalf("repeat release: %v", err)
	}
	if again.Released {
		t.Fatal("repeat release must be a no-op")
	}

	missing, err := s.ReleaseCredits(ctx, "no-such-job")
	if err != nil {
		t.Fatalf("release missing job: %v", err)
	}
	if missing.Released {
		t.Fatal("release of a missing job must be a no-op")
	}
}

func TestReleaseRefusesConfirmedReservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", store.TierFree, 100)
	mustReserve(t, s, "u1", "job-1", 10)
	if _, err := s.ConfirmCredits(ctx, "job-1", 10); err != nil {
		t.Fatal(err)
	}

	_, err := s.ReleaseCredits(ctx, "job-1")
	if !errors.Is(err, store.ErrReservationConfirmed) {
		t.Fatalf("err = %v, want ErrReservationConfirmed", err)
	}
}

func TestBypassSkipsHoldButCountsUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "ent", store.TierEnterprise, 0)

	job, err := s.ReserveCredits(ctx, store.ReserveParams{
		UID: "ent", JobID: "job-1", Kind: store.KindDubbing, Cost: 50, Bypass: true,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if job.CreditsReserved {
		t.Fatal("bypass reservation must not hold credits")
	}

	if _, err := s.ConfirmCredits(ctx, "job-1", 50); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	user, _ := s.GetUser(ctx, "ent")
	if !almostEqual(user.Credits, 0) || user.TotalVoicesGenerated != 1 {
		t.Fatalf("balances = %.2f / usage %d, want 0 / 1", user.Credits, user.TotalVoicesGenerated)
	}
}

func TestConcurrentReservesNeverOverspend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", store.TierFree, 50)

	const attempts = 10
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.ReserveCredits(ctx, store.ReserveParams{
				UID:   "u1",
				JobID: "job-" + string(rune('a'+i)),
				Kind:  store.KindVoice,
				Cost:  10,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, store.ErrInsufficientCredits) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 5 {
		t.Fatalf("succeeded = %d, want 5", succeeded)
	}
	user, _ := s.GetUser(ctx, "u1")
	if !almostEqual(user.PendingCredits, 50) {
		t.Fatalf("pending = %.2f, want 50", user.PendingCredits)
	}
}

func TestCompleteChunkCountsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", store.TierFree, 100)
	mustReserve(t, s, "u1", "job-1", 10)

	chunks := []*store.Chunk{
		{Index: 0, Text: "Speaker 1: hello"},
		{Index: 1, Text: "Speaker 2: world"},
		{Index: 2, Text: "Speaker 1: bye"},
	}
	if err := s.CreateChunks(ctx, "job-1", chunks); err != nil {
		t.Fatalf("create chunks: %v", err)
	}

	first, err := s.CompleteChunk(ctx, "job-1", 0, "/tmp/0.wav")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if first.AlreadyDone || first.Completed != 1 || first.Total != 3 || first.AllDone() {
		t.Fatalf("unexpected completion: %+v", first)
	}

	dup, err := s.CompleteChunk(ctx, "job-1", 0, "/tmp/0.wav")
	if err != nil {
		t.Fatalf("duplicate complete: %v", err)
	}
	if !dup.AlreadyDone || dup.Completed != 1 {
		t.Fatalf("duplicate advanced counter: %+v", dup)
	}

	if _, err := s.CompleteChunk(ctx, "job-1", 1, "/tmp/1.wav"); err != nil {
		t.Fatal(err)
	}
	last, err := s.CompleteChunk(ctx, "job-1", 2, "/tmp/2.wav")
	if err != nil {
		t.Fatal(err)
	}
	if !last.AllDone() {
		t.Fatalf("expected AllDone after final chunk: %+v", last)
	}

	_, err = s.CompleteChunk(ctx, "job-1", 99, "/tmp/99.wav")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCompleteChunkConcurrentDeliveries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", store.TierFree, 100)
	mustReserve(t, s, "u1", "job-1", 10)

	const total = 8
	chunks := make([]*store.Chunk, total)
	for i := range chunks {
		chunks[i] = &store.Chunk{Index: i}
	}
	if err := s.CreateChunks(ctx, "job-1", chunks); err != nil {
		t.Fatalf("create chunks: %v", err)
	}

	// Two racing deliveries per chunk, interleaved arbitrarily; exactly
	// one delivery in the whole set may observe the final transition.
	type outcome struct {
		completion store.ChunkCompletion
		err        error
	}
	results := make([]outcome, total*2)
	var wg sync.WaitGroup
	for i := 0; i < total*2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			completion, err := s.CompleteChunk(ctx, "job-1", i%total, "/tmp/c.wav")
			results[i] = outcome{completion, err}
		}(i)
	}
	wg.Wait()

	advanced := 0
	sawFinal := 0
	for _, r := range results {
		if r.err != nil {
			t.Fatalf("complete chunk: %v", r.err)
		}
		if r.completion.AlreadyDone {
			continue
		}
		advanced++
		if r.completion.AllDone() {
			sawFinal++
		}
	}
	if advanced != total {
		t.Fatalf("counter advanced %d times, want %d", advanced, total)
	}
	if sawFinal != 1 {
		t.Fatalf("%d deliveries observed the final transition, want exactly 1", sawFinal)
	}

	job, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.CompletedChunks != total {
		t.Fatalf("completed = %d, want %d", job.CompletedChunks, total)
	}
}

func TestListStaleReservations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", store.TierFree, 100)
	mustReserve(t, s, "u1", "stale-job", 10)

	stale, err := s.ListStaleReservations(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "stale-job" {
		t.Fatalf("stale = %+v, want stale-job", stale)
	}

	none, err := s.ListStaleReservations(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no stale reservations, got %d", len(none))
	}

	if _, err := s.ReleaseCredits(ctx, "stale-job"); err != nil {
		t.Fatal(err)
	}
	released, err := s.ListStaleReservations(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(released) != 0 {
		t.Fatal("released reservations must not be reported as stale")
	}
}

func TestRecoverStalledJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", store.TierFree, 100)
	job := mustReserve(t, s, "u1", "job-1", 10)

	job.Status = store.StatusCloning
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	recovered, err := s.RecoverStalled(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(recovered) != 1 || recovered[0] != "job-1" {
		t.Fatalf("recovered = %v, want [job-1]", recovered)
	}

	reloaded, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != store.StatusRetrying {
		t.Fatalf("status = %s, want retrying", reloaded.Status)
	}
}

func TestHealthSummaryBuckets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", store.TierFree, 1000)

	mustReserve(t, s, "u1", "a", 10)
	cloning := mustReserve(t, s, "u1", "b", 10)
	cloning.Status = store.StatusCloning
	if err := s.UpdateJob(ctx, cloning); err != nil {
		t.Fatal(err)
	}
	done := mustReserve(t, s, "u1", "c", 10)
	done.Status = store.StatusCompleted
	if err := s.UpdateJob(ctx, done); err != nil {
		t.Fatal(err)
	}

	health, err := s.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if health.Total != 3 || health.Queued != 1 || health.Processing != 1 || health.Completed != 1 {
		t.Fatalf("unexpected summary: %+v", health)
	}
}
