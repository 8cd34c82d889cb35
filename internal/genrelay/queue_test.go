package genrelay

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/genrelay/internal/kvstore"
)

func TestUpsertDraftAssignsIdentityAndDeduplicates(t *testing.T) {
	queues := NewQueueStore(kvstore.NewInMemoryAdapter(), 0)

	saved, err := queues.UpsertDraft("u1", GenerationRecord{Topic: "launch post"})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if !strings.HasPrefix(saved.ID, "draft_") {
		t.Fatalf("expected assigned draft id, got %q", saved.ID)
	}
	if saved.CreatedAt == "" {
		t.Fatalf("expected assigned timestamp")
	}

	saved.Topic = "launch post v2"
	if _, err := queues.UpsertDraft("u1", saved); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	rows := queues.ReadDrafts("u1")
	if len(rows) != 1 {
		t.Fatalf("expected upsert to replace, got %d rows", len(rows))
	}
	if rows[0].Topic != "launch post v2" {
		t.Fatalf("expected replaced topic, got %q", rows[0].Topic)
	}
}

func TestQueueBoundDropsOldest(t *testing.T) {
	queues := NewQueueStore(kvstore.NewInMemoryAdapter(), 3)
	for i := 1; i <= 5; i++ {
		entry := GenerationRecord{ID: fmt.Sprintf("off_%d", i), Topic: fmt.Sprintf("topic %d", i)}
		if _, err := queues.PushOffline("u1", entry); err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
	}
	rows := queues.ReadOffline("u1")
	if len(rows) != 3 {
		t.Fatalf("expected queue truncated to 3, got %d", len(rows))
	}
	for i, wantID := range []string{"off_5", "off_4", "off_3"} {
		if rows[i].ID != wantID {
			t.Fatalf("row %d: expected %q (most recent first), got %q", i, wantID, rows[i].ID)
		}
	}
}

func TestReadOfflineMigratesLegacySharedQueue(t *testing.T) {
	store := kvstore.NewInMemoryAdapter()
	legacy := []GenerationRecord{
		{ID: "legacy_1", Topic: "old one"},
		{ID: "legacy_2", Topic: "old two"},
	}
	payload, err := json.Marshal(legacy)
	if err != nil {
		t.Fatalf("marshal legacy rows failed: %v", err)
	}
	if err := store.Set("generations.offline", string(payload)); err != nil {
		t.Fatalf("seed legacy key failed: %v", err)
	}

	queues := NewQueueStore(store, 0)
	rows := queues.ReadOffline("u1")
	if len(rows) != 2 || rows[0].ID != "legacy_1" {
		t.Fatalf("expected legacy rows migrated, got %+v", rows)
	}
	if _, ok := store.Get("generations.offline"); ok {
		t.Fatalf("expected legacy key cleared after migration")
	}

	// Second read comes from the scoped key; nothing doubles up.
	rows = queues.ReadOffline("u1")
	if len(rows) != 2 {
		t.Fatalf("expected stable migrated queue, got %d rows", len(rows))
	}
}

func TestAnonymousScopeSharedForBlankUsers(t *testing.T) {
	queues := NewQueueStore(kvstore.NewInMemoryAdapter(), 0)
	if _, err := queues.PushOffline("", GenerationRecord{ID: "anon_1"}); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	rows := queues.ReadOffline("   ")
	if len(rows) != 1 || rows[0].ID != "anon_1" {
		t.Fatalf("expected blank user ids to share the anonymous scope, got %+v", rows)
	}
}

func TestRemoveHistoryByIDsCountsBothQueues(t *testing.T) {
	queues := NewQueueStore(kvstore.NewInMemoryAdapter(), 0)
	if _, err := queues.UpsertDraft("u1", GenerationRecord{ID: "shared_1"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := queues.UpsertDraft("u1", GenerationRecord{ID: "draft_only"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := queues.PushOffline("u1", GenerationRecord{ID: "shared_1"}); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	counts := queues.RemoveHistoryByIDs("u1", []string{"shared_1", "missing", " "})
	if counts.Drafts != 1 || counts.Offline != 1 || counts.Total != 2 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	if rows := queues.ReadDrafts("u1"); len(rows) != 1 || rows[0].ID != "draft_only" {
		t.Fatalf("unexpected surviving drafts %+v", rows)
	}
	if rows := queues.ReadOffline("u1"); len(rows) != 0 {
		t.Fatalf("expected offline queue empty, got %+v", rows)
	}
}

func TestCleanupByAgeRetainsUndatedRows(t *testing.T) {
	queues := NewQueueStore(kvstore.NewInMemoryAdapter(), 0)
	old := time.Now().UTC().AddDate(0, 0, -40).Format(time.RFC3339Nano)
	if _, err := queues.UpsertDraft("u1", GenerationRecord{ID: "stale", CreatedAt: old}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := queues.UpsertDraft("u1", GenerationRecord{ID: "fresh"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := queues.PushOffline("u1", GenerationRecord{ID: "undated", CreatedAt: "not-a-date"}); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	result := queues.CleanupByAge("u1", 30)
	if result.Drafts != 1 || result.Offline != 0 {
		t.Fatalf("unexpected cleanup counts %+v", result)
	}
	if rows := queues.ReadDrafts("u1"); len(rows) != 1 || rows[0].ID != "fresh" {
		t.Fatalf("expected only fresh draft retained, got %+v", rows)
	}
	if rows := queues.ReadOffline("u1"); len(rows) != 1 || rows[0].ID != "undated" {
		t.Fatalf("undated rows must never be aged out, got %+v", rows)
	}
}

func TestCleanupByAgeClampsToMinimum(t *testing.T) {
	queues := NewQueueStore(kvstore.NewInMemoryAdapter(), 0)
	result := queues.CleanupByAge("u1", 0)
	if result.MaxAgeDays != 1 {
		t.Fatalf("expected age clamped to 1 day, got %d", result.MaxAgeDays)
	}
}

func TestReadQueueToleratesCorruptPayload(t *testing.T) {
	store := kvstore.NewInMemoryAdapter()
	if err := store.Set("generations.drafts.u1", "{corrupt"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	queues := NewQueueStore(store, 0)
	if rows := queues.ReadDrafts("u1"); len(rows) != 0 {
		t.Fatalf("corrupt payload must read as empty, got %+v", rows)
	}
}
