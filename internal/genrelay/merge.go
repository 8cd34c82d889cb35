package genrelay

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type TierCounts struct {
	Draft   int `json:"draft"`
	Offline int `json:"offline"`
	Cloud   int `json:"cloud"`
}

// MergedView is the read-side output: one de-duplicated, precedence
// resolved row per logical record. It is recomputed on every load and
// never persisted.
type MergedView struct {
	Records []TieredRecord `json:"records"`
	Counts  TierCounts     `json:"counts"`
}

// MergeHistory reconciles the same logical record possibly present in
// all three sources. Tiers are processed draft, then offline-fallback,
// then cloud; for a key already seen, the stored value is replaced only
// when the new record's tier ranks greater than or equal to the stored
// one. A cloud record with a local duplicate's id therefore always
// wins, which is what collapses a just-synced local row into its remote
// counterpart without any explicit synced flag. Source slices are never
// mutated. Output is sorted newest-created-first.
func MergeHistory(cloud, drafts, fallback []GenerationRecord) MergedView {
	byKey := map[string]TieredRecord{}
	order := []string{}

	absorb := func(rows []GenerationRecord, tier Tier) {
		for position, row := range rows {
			key := mergeKey(row, tier, position)
			existing, seen := byKey[key]
			if seen && tier < existing.Tier {
				continue
			}
			if !seen {
				order = append(order, key)
			}
			byKey[key] = TieredRecord{Tier: tier, Record: row}
		}
	}
	absorb(drafts, TierDraft)
	absorb(fallback, TierOffline)
	absorb(cloud, TierCloud)

	records := make([]TieredRecord, 0, len(order))
	counts := TierCounts{}
	for _, key := range order {
		row := byKey[key]
		records = append(records, row)
		switch row.Tier {
		case TierDraft:
			counts.Draft++
		case TierOffline:
			counts.Offline++
		case TierCloud:
			counts.Cloud++
		}
	}
	return MergedView{
		Records: SortRecords(records, SortNewest),
		Counts:  counts,
	}
}

// mergeKey prefers the record id, then the id embedded in the result
// payload, and finally a positional+timestamp composite so id-less
// rows never collide across sources.
func mergeKey(row GenerationRecord, tier Tier, position int) string {
	if id := strings.TrimSpace(row.ID); id != "" {
		return id
	}
	if id := embeddedResultID(row.Result); id != "" {
		return id
	}
	return fmt.Sprintf("row_%s_%d_%s", tier, position, row.CreatedAt)
}

type SortOrder string

const (
	SortNewest       SortOrder = "newest"
	SortOldest       SortOrder = "oldest"
	SortScoreDesc    SortOrder = "score_desc"
	SortScoreAsc     SortOrder = "score_asc"
	SortTopicAsc     SortOrder = "topic_asc"
	SortProviderAsc  SortOrder = "provider_asc"
	SortPlatformAsc  SortOrder = "platform_asc"
	DefaultSortOrder           = SortNewest
)

// Filter describes the predicates applied before sorting. Applying an
// identical filter to an already-filtered collection is a no-op.
type Filter struct {
	Search   string
	Platform string
	Provider string
	Decision string
	Tier     Tier      // zero matches all tiers
	From     time.Time // inclusive; zero means unbounded
	To       time.Time // inclusive; zero means unbounded
}

func (f Filter) isZero() bool {
	return f.Search == "" && f.Platform == "" && f.Provider == "" &&
		f.Decision == "" && f.Tier == 0 && f.From.IsZero() && f.To.IsZero()
}

// ApplyFilter returns the rows matching every set predicate. The input
// is never mutated.
func ApplyFilter(rows []TieredRecord, f Filter) []TieredRecord {
	if f.isZero() {
		return append([]TieredRecord(nil), rows...)
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	platform := strings.ToLower(strings.TrimSpace(f.Platform))
	provider := strings.ToLower(strings.TrimSpace(f.Provider))
	decision := strings.ToLower(strings.TrimSpace(f.Decision))

	kept := make([]TieredRecord, 0, len(rows))
	for _, row := range rows {
		record := row.Record
		if f.Tier != 0 && row.Tier != f.Tier {
			continue
		}
		if platform != "" && strings.ToLower(record.Platform) != platform {
			continue
		}
		if provider != "" && strings.ToLower(record.Provider) != provider {
			continue
		}
		if decision != "" && resultDecision(record.Result) != decision {
			continue
		}
		if search != "" && !matchesSearch(record, search) {
			continue
		}
		if !f.From.IsZero() || !f.To.IsZero() {
			ts, ok := parseCreatedAt(record.CreatedAt)
			// Un-dated rows pass the range filter rather than vanish.
			if ok {
				if !f.From.IsZero() && ts.Before(f.From) {
					continue
				}
				if !f.To.IsZero() && ts.After(f.To) {
					continue
				}
			}
		}
		kept = append(kept, row)
	}
	return kept
}

func matchesSearch(record GenerationRecord, search string) bool {
	if strings.Contains(strings.ToLower(record.Topic), search) {
		return true
	}
	if strings.Contains(strings.ToLower(record.Platform), search) {
		return true
	}
	if strings.Contains(strings.ToLower(record.Provider), search) {
		return true
	}
	if record.UserDisplayName != nil && strings.Contains(strings.ToLower(*record.UserDisplayName), search) {
		return true
	}
	return false
}

// SortRecords returns a newly-ordered copy. String keys compare
// locale-aware; a missing score sorts below any present score.
func SortRecords(rows []TieredRecord, order SortOrder) []TieredRecord {
	out := append([]TieredRecord(nil), rows...)
	collator := collate.New(language.English, collate.Loose)
	less := func(left, right GenerationRecord) bool {
		switch order {
		case SortOldest:
			return createdAtOrder(left).Before(createdAtOrder(right))
		case SortScoreDesc:
			leftScore, leftOK := resultScore(left.Result)
			rightScore, rightOK := resultScore(right.Result)
			if leftOK != rightOK {
				return leftOK
			}
			return leftScore > rightScore
		case SortScoreAsc:
			leftScore, leftOK := resultScore(left.Result)
			rightScore, rightOK := resultScore(right.Result)
			if leftOK != rightOK {
				return !leftOK
			}
			return leftScore < rightScore
		case SortTopicAsc:
			return collator.CompareString(left.Topic, right.Topic) < 0
		case SortProviderAsc:
			return collator.CompareString(left.Provider, right.Provider) < 0
		case SortPlatformAsc:
			return collator.CompareString(left.Platform, right.Platform) < 0
		default:
			return createdAtOrder(left).After(createdAtOrder(right))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i].Record, out[j].Record)
	})
	return out
}

func createdAtOrder(record GenerationRecord) time.Time {
	if ts, ok := parseCreatedAt(record.CreatedAt); ok {
		return ts
	}
	return time.Time{}
}
