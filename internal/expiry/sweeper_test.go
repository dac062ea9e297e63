package expiry_test

import (
	"context"
	"sync"
	"testing"

	"voiceloom/internal/delivery"
	"voiceloom/internal/expiry"
	"voiceloom/internal/ledger"
	"voiceloom/internal/store"
	"voiceloom/internal/taskqueue"
	"voiceloom/internal/testsupport"
)

func TestSweepPublishesExpireForStaleReservations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	// Push the cutoff into the future so a fresh reservation counts as stale.
	cfg.Billing.PendingCreditTimeoutHours = -1
	s := testsupport.MustOpenStore(t, cfg)
	testsupport.NewUser(t, s, "u1", store.TierFree, 100)
	ctx := context.Background()

	led := ledger.New(s, cfg.Billing, nil)
	if _, err := led.Reserve(ctx, ledger.ReserveRequest{
		UID:             "u1",
		JobID:           "job-stale",
		Kind:            store.KindVoice,
		SourceLanguage:  "en",
		TargetLanguage:  "es",
		DurationSeconds: 30,
	}); err != nil {
		t.Fatal(err)
	}

	queue := taskqueue.NewMemory(1)
	var mu sync.Mutex
	var got []delivery.Task
	if err := queue.Subscribe(ctx, func(_ context.Context, task delivery.Task, _ delivery.Info) delivery.Disposition {
		mu.Lock()
		got = append(got, task)
		mu.Unlock()
		return delivery.Ack
	}); err != nil {
		t.Fatal(err)
	}

	sweeper := expiry.New(cfg, s, queue, nil)
	sweeper.Sweep(ctx)
	queue.Drain(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].Type != delivery.TaskExpire || got[0].JobID != "job-stale" || got[0].UID != "u1" {
		t.Fatalf("task = %+v", got[0])
	}

	// A second sweep must not publish a duplicate for the same job.
	sweeper.Sweep(ctx)
	if n := queue.Drain(ctx); n != 0 {
		t.Fatalf("duplicate expiry deliveries = %d, want 0", n)
	}
}

func TestSweepLeavesFreshReservationsAlone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	testsupport.NewUser(t, s, "u1", store.TierFree, 100)
	ctx := context.Background()

	led := ledger.New(s, cfg.Billing, nil)
	if _, err := led.Reserve(ctx, ledger.ReserveRequest{
		UID:             "u1",
		JobID:           "job-fresh",
		Kind:            store.KindVoice,
		SourceLanguage:  "en",
		TargetLanguage:  "es",
		DurationSeconds: 30,
	}); err != nil {
		t.Fatal(err)
	}

	queue := taskqueue.NewMemory(1)
	if err := queue.Subscribe(ctx, func(context.Context, delivery.Task, delivery.Info) delivery.Disposition {
		return delivery.Ack
	}); err != nil {
		t.Fatal(err)
	}

	expiry.New(cfg, s, queue, nil).Sweep(ctx)
	if n := queue.Drain(ctx); n != 0 {
		t.Fatalf("deliveries = %d, want 0", n)
	}
}
