// Package genrelay implements the local-first persistence core of the
// generation dashboard: bounded per-user queues, the primary/fallback
// save protocol, and the three-tier history merge.
package genrelay

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier identifies which source produced a record. The three origins
// are mutually exclusive and exhaustive, with a fixed precedence.
type Tier int

const (
	TierDraft Tier = iota + 1
	TierOffline
	TierCloud
)

func (t Tier) String() string {
	switch t {
	case TierDraft:
		return "draft"
	case TierOffline:
		return "offline"
	case TierCloud:
		return "cloud"
	default:
		return "unknown"
	}
}

const (
	draftIDPrefix   = "draft"
	offlineIDPrefix = "offline"
	localIDPrefix   = "gen"
)

// GenerationRecord is one generation exchanged with the UI. Result is
// an opaque UI-defined payload; the core only reads an embedded id, a
// score and a decision out of it, all best-effort.
type GenerationRecord struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	UserDisplayName *string         `json:"userDisplayName,omitempty"`
	Topic           string          `json:"topic"`
	Platform        string          `json:"platform"`
	Provider        string          `json:"provider"`
	Result          json.RawMessage `json:"result,omitempty"`
	CreatedAt       string          `json:"createdAt"`
}

// TieredRecord tags a record with the tier it came from, instead of
// inferring the origin from marker fields inside the payload.
type TieredRecord struct {
	Tier   Tier             `json:"tier"`
	Record GenerationRecord `json:"record"`
}

func NewLocalID(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = localIDPrefix
	}
	return prefix + "_" + uuid.NewString()
}

func nowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseCreatedAt(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, true
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

type resultEnvelope struct {
	ID       string   `json:"id"`
	Score    *float64 `json:"score"`
	Decision string   `json:"decision"`
}

func decodeResult(raw json.RawMessage) (resultEnvelope, bool) {
	var envelope resultEnvelope
	if len(raw) == 0 {
		return envelope, false
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return resultEnvelope{}, false
	}
	return envelope, true
}

// embeddedResultID reads the id the backend embedded inside the result
// payload, when present.
func embeddedResultID(raw json.RawMessage) string {
	envelope, ok := decodeResult(raw)
	if !ok {
		return ""
	}
	return strings.TrimSpace(envelope.ID)
}

func resultScore(raw json.RawMessage) (float64, bool) {
	envelope, ok := decodeResult(raw)
	if !ok || envelope.Score == nil {
		return 0, false
	}
	return *envelope.Score, true
}

func resultDecision(raw json.RawMessage) string {
	envelope, ok := decodeResult(raw)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(envelope.Decision))
}
