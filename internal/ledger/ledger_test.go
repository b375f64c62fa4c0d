package ledger

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"darkroom/internal/domain"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	led, err := Open(filepath.Join(t.TempDir(), "missions.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = led.Close() })
	return led
}

func enqueueMission(t *testing.T, led *Ledger, id string, missionType domain.MissionType, status domain.MissionStatus, createdAt time.Time) *domain.Mission {
	t.Helper()
	m := &domain.Mission{
		ID:        id,
		Type:      missionType,
		Prompt:    "prompt for " + id,
		Status:    status,
		CreatedAt: createdAt,
	}
	if err := led.Enqueue(context.Background(), m); err != nil {
		t.Fatalf("enqueue %s: %v", id, err)
	}
	return m
}

func TestLedgerRoundTrip(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	enqueueMission(t, led, "m1", domain.MissionTypeImage, domain.MissionStatusPending, base)
	enqueueMission(t, led, "m2", domain.MissionTypeVideo, domain.MissionStatusPending, base.Add(time.Second))

	missions := led.Load(ctx)
	if len(missions) != 2 {
		t.Fatalf("expected 2 missions, got %d", len(missions))
	}
	if missions[0].ID != "m1" || missions[1].ID != "m2" {
		t.Fatalf("expected creation order m1,m2 got %s,%s", missions[0].ID, missions[1].ID)
	}
	if missions[0].Status != domain.MissionStatusPending {
		t.Fatalf("unexpected status %s", missions[0].Status)
	}
	if missions[0].Prompt != "prompt for m1" {
		t.Fatalf("unexpected prompt %q", missions[0].Prompt)
	}
}

func TestLedgerApplyMergesPartialUpdates(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()
	enqueueMission(t, led, "m1", domain.MissionTypeVideo, domain.MissionStatusPending, time.Now().UTC())

	progress := "Rendering frames"
	if err := led.Apply(ctx, "m1", Patch{ProgressMessage: &progress}); err != nil {
		t.Fatalf("apply progress: %v", err)
	}
	handle := json.RawMessage(`{"name":"operations/abc","done":false}`)
	if err := led.Apply(ctx, "m1", Patch{Operation: handle}); err != nil {
		t.Fatalf("apply operation: %v", err)
	}

	m, err := led.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.ProgressMessage != progress {
		t.Fatalf("progress clobbered: %q", m.ProgressMessage)
	}
	if string(m.Operation) != string(handle) {
		t.Fatalf("operation handle not persisted verbatim: %s", m.Operation)
	}
	if m.Status != domain.MissionStatusPending {
		t.Fatalf("status changed unexpectedly: %s", m.Status)
	}
}

func TestLedgerApplyUnknownMission(t *testing.T) {
	led := openTestLedger(t)
	progress := "x"
	err := led.Apply(context.Background(), "missing", Patch{ProgressMessage: &progress})
	if err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimNextPendingIsSingleConcurrency(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)
	enqueueMission(t, led, "m1", domain.MissionTypeImage, domain.MissionStatusPending, base)
	enqueueMission(t, led, "m2", domain.MissionTypeImage, domain.MissionStatusPending, base.Add(time.Second))

	first, err := led.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first == nil || first.ID != "m1" {
		t.Fatalf("expected to claim m1, got %+v", first)
	}
	if first.Status != domain.MissionStatusInProgress {
		t.Fatalf("claimed mission not in progress: %s", first.Status)
	}

	// m2 must not start while m1 is in progress.
	second, err := led.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second != nil {
		t.Fatalf("claimed %s while another mission is in progress", second.ID)
	}

	inProgress, err := led.CountByStatus(ctx, domain.MissionStatusInProgress)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if inProgress != 1 {
		t.Fatalf("expected exactly 1 in-progress mission, got %d", inProgress)
	}
}

func TestReconcileRequeuesInterruptedMissions(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)
	enqueueMission(t, led, "done", domain.MissionTypeImage, domain.MissionStatusCompleted, base)
	enqueueMission(t, led, "bad", domain.MissionTypeImage, domain.MissionStatusFailed, base.Add(time.Second))
	enqueueMission(t, led, "stuck", domain.MissionTypeVideo, domain.MissionStatusInProgress, base.Add(2*time.Second))
	enqueueMission(t, led, "waiting", domain.MissionTypeImage, domain.MissionStatusPending, base.Add(3*time.Second))

	handle := json.RawMessage(`{"name":"operations/xyz","done":false}`)
	if err := led.Apply(ctx, "stuck", Patch{Operation: handle}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	requeued, err := led.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected 1 requeued mission, got %d", requeued)
	}

	byID := map[string]*domain.Mission{}
	for _, m := range led.Load(ctx) {
		byID[m.ID] = m
	}
	if byID["done"].Status != domain.MissionStatusCompleted {
		t.Fatalf("completed mission changed: %s", byID["done"].Status)
	}
	if byID["bad"].Status != domain.MissionStatusFailed {
		t.Fatalf("failed mission changed: %s", byID["bad"].Status)
	}
	if byID["stuck"].Status != domain.MissionStatusPending {
		t.Fatalf("interrupted mission not requeued: %s", byID["stuck"].Status)
	}
	if string(byID["stuck"].Operation) != string(handle) {
		t.Fatalf("operation handle lost during reconcile: %s", byID["stuck"].Operation)
	}
	if byID["waiting"].Status != domain.MissionStatusPending {
		t.Fatalf("pending mission changed: %s", byID["waiting"].Status)
	}
}

func TestClearFinishedReturnsRemovedIDs(t *testing.T) {
	led := openTestLedger(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)
	enqueueMission(t, led, "done", domain.MissionTypeImage, domain.MissionStatusCompleted, base)
	enqueueMission(t, led, "bad", domain.MissionTypeVideo, domain.MissionStatusFailed, base.Add(time.Second))
	enqueueMission(t, led, "waiting", domain.MissionTypeImage, domain.MissionStatusPending, base.Add(2*time.Second))

	ids, err := led.ClearFinished(ctx)
	if err != nil {
		t.Fatalf("clear finished: %v", err)
	}
	if len(ids) != 2 || ids[0] != "done" || ids[1] != "bad" {
		t.Fatalf("unexpected removed ids %v", ids)
	}

	missions := led.Load(ctx)
	if len(missions) != 1 || missions[0].ID != "waiting" {
		t.Fatalf("pending mission should survive, got %+v", missions)
	}
}

func TestLoadFailsSoftOnClosedDatabase(t *testing.T) {
	led := openTestLedger(t)
	_ = led.Close()
	if missions := led.Load(context.Background()); missions != nil {
		t.Fatalf("expected empty load after close, got %d missions", len(missions))
	}
}
