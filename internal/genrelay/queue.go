package genrelay

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/agentworkforce/genrelay/internal/kvstore"
)

const (
	draftQueueKeyPrefix   = "generations.drafts."
	offlineQueueKeyPrefix = "generations.offline."
	legacyOfflineQueueKey = "generations.offline"
	anonymousScope        = "anonymous"

	DefaultMaxQueueLength = 50
	minCleanupAgeDays     = 1
)

// QueueStore owns the two bounded per-user queues: the draft queue for
// locally edited entries and the offline-fallback queue for entries the
// remote write path could not accept. Queues are most-recent-first and
// mutated only through these operations. Each mutation is one
// read-modify-write against the adapter; the adapter must provide
// per-key atomicity for this to be safe outside a single logical
// writer.
type QueueStore struct {
	store  kvstore.Adapter
	maxLen int
}

func NewQueueStore(store kvstore.Adapter, maxLen int) *QueueStore {
	if maxLen <= 0 {
		maxLen = DefaultMaxQueueLength
	}
	return &QueueStore{store: store, maxLen: maxLen}
}

func (q *QueueStore) scope(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return anonymousScope
	}
	return userID
}

func (q *QueueStore) draftKey(userID string) string {
	return draftQueueKeyPrefix + q.scope(userID)
}

func (q *QueueStore) offlineKey(userID string) string {
	return offlineQueueKeyPrefix + q.scope(userID)
}

// readQueue never fails: a missing key or corrupt payload reads as an
// empty queue.
func (q *QueueStore) readQueue(key string) []GenerationRecord {
	if q == nil || q.store == nil {
		return []GenerationRecord{}
	}
	payload, ok := q.store.Get(key)
	if !ok || strings.TrimSpace(payload) == "" {
		return []GenerationRecord{}
	}
	var rows []GenerationRecord
	if err := json.Unmarshal([]byte(payload), &rows); err != nil {
		return []GenerationRecord{}
	}
	return rows
}

func (q *QueueStore) writeQueue(key string, rows []GenerationRecord) error {
	if q == nil || q.store == nil {
		return ErrNotConfigured
	}
	if len(rows) > q.maxLen {
		rows = rows[:q.maxLen]
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return q.store.Set(key, string(payload))
}

func (q *QueueStore) ReadDrafts(userID string) []GenerationRecord {
	return q.readQueue(q.draftKey(userID))
}

// ReadOffline reads the offline-fallback queue. The first time a
// user-scoped queue reads empty while the legacy shared queue still has
// entries, those entries move into the user's scope and the legacy key
// is cleared. The migration is idempotent.
func (q *QueueStore) ReadOffline(userID string) []GenerationRecord {
	rows := q.readQueue(q.offlineKey(userID))
	if len(rows) > 0 {
		return rows
	}
	legacy := q.readQueue(legacyOfflineQueueKey)
	if len(legacy) == 0 {
		return rows
	}
	if err := q.writeQueue(q.offlineKey(userID), legacy); err != nil {
		return rows
	}
	_ = q.store.Remove(legacyOfflineQueueKey)
	if len(legacy) > q.maxLen {
		legacy = legacy[:q.maxLen]
	}
	return legacy
}

// UpsertDraft inserts or replaces a draft entry by id, newest first.
// Missing id and timestamp are assigned.
func (q *QueueStore) UpsertDraft(userID string, entry GenerationRecord) (GenerationRecord, error) {
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = NewLocalID(draftIDPrefix)
	}
	if strings.TrimSpace(entry.CreatedAt) == "" {
		entry.CreatedAt = nowTimestamp()
	}
	rows := q.ReadDrafts(userID)
	kept := make([]GenerationRecord, 0, len(rows)+1)
	kept = append(kept, entry)
	for _, row := range rows {
		if row.ID == entry.ID {
			continue
		}
		kept = append(kept, row)
	}
	if err := q.writeQueue(q.draftKey(userID), kept); err != nil {
		return entry, err
	}
	return entry, nil
}

// PushOffline inserts a failed save at the front unconditionally:
// fallback entries record write failures, they are not edited.
func (q *QueueStore) PushOffline(userID string, entry GenerationRecord) (GenerationRecord, error) {
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = NewLocalID(offlineIDPrefix)
	}
	if strings.TrimSpace(entry.CreatedAt) == "" {
		entry.CreatedAt = nowTimestamp()
	}
	rows := q.ReadOffline(userID)
	kept := make([]GenerationRecord, 0, len(rows)+1)
	kept = append(kept, entry)
	kept = append(kept, rows...)
	if err := q.writeQueue(q.offlineKey(userID), kept); err != nil {
		return entry, err
	}
	return entry, nil
}

func (q *QueueStore) RemoveDraftsByIDs(userID string, ids []string) int {
	return q.removeByIDs(q.draftKey(userID), ids)
}

func (q *QueueStore) RemoveOfflineByIDs(userID string, ids []string) int {
	return q.removeByIDs(q.offlineKey(userID), ids)
}

func (q *QueueStore) removeByIDs(key string, ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			wanted[id] = true
		}
	}
	if len(wanted) == 0 {
		return 0
	}
	rows := q.readQueue(key)
	kept := make([]GenerationRecord, 0, len(rows))
	removed := 0
	for _, row := range rows {
		if wanted[row.ID] {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	if removed == 0 {
		return 0
	}
	if err := q.writeQueue(key, kept); err != nil {
		return 0
	}
	return removed
}

type RemovedCounts struct {
	Drafts  int `json:"drafts"`
	Offline int `json:"offline"`
	Total   int `json:"total"`
}

// RemoveHistoryByIDs removes matching entries from both local queues.
func (q *QueueStore) RemoveHistoryByIDs(userID string, ids []string) RemovedCounts {
	counts := RemovedCounts{
		Drafts:  q.RemoveDraftsByIDs(userID, ids),
		Offline: q.RemoveOfflineByIDs(userID, ids),
	}
	counts.Total = counts.Drafts + counts.Offline
	return counts
}

type CleanupResult struct {
	Drafts     int `json:"drafts"`
	Offline    int `json:"offline"`
	MaxAgeDays int `json:"maxAgeDays"`
}

// CleanupByAge drops entries older than maxAgeDays from both queues.
// Entries whose timestamp does not parse are retained: un-dated data is
// never silently destroyed.
func (q *QueueStore) CleanupByAge(userID string, maxAgeDays int) CleanupResult {
	if maxAgeDays < minCleanupAgeDays {
		maxAgeDays = minCleanupAgeDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	return CleanupResult{
		Drafts:     q.cleanupQueue(q.draftKey(userID), cutoff),
		Offline:    q.cleanupQueue(q.offlineKey(userID), cutoff),
		MaxAgeDays: maxAgeDays,
	}
}

func (q *QueueStore) cleanupQueue(key string, cutoff time.Time) int {
	rows := q.readQueue(key)
	kept := make([]GenerationRecord, 0, len(rows))
	removed := 0
	for _, row := range rows {
		ts, ok := parseCreatedAt(row.CreatedAt)
		if ok && ts.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	if removed == 0 {
		return 0
	}
	if err := q.writeQueue(key, kept); err != nil {
		return 0
	}
	return removed
}
