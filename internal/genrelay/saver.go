package genrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/agentworkforce/genrelay/internal/apirouter"
)

// Where a save ended up, and why it degraded when it did.
const (
	SavedToRemote = "remote"
	SavedToLocal  = "local"

	ReasonUnauthenticated = "unauthenticated"
	ReasonInvalidEntry    = "invalid_entry"
	ReasonForbidden       = "forbidden"
	ReasonInsertFailed    = "insert_failed"
)

const defaultSavePath = "/api/generations"

// GenerationStore is the direct remote-data-store access the save
// protocol falls back to when the application API is unreachable.
type GenerationStore interface {
	Insert(ctx context.Context, record GenerationRecord, includeDisplayName bool) *StoreError
	DeleteByIDs(ctx context.Context, userID string, ids []string) (int, error)
	Select(ctx context.Context, query GenerationQuery) ([]GenerationRecord, int, error)
}

// TokenProvider yields the bearer token for the application API, or an
// error when no authenticated context exists.
type TokenProvider func(ctx context.Context) (string, error)

type SaveOutcome struct {
	SavedTo  string           `json:"savedTo"`
	Reason   string           `json:"reason,omitempty"`
	Degraded bool             `json:"degraded,omitempty"`
	Mirrored bool             `json:"mirrored,omitempty"`
	Message  string           `json:"message,omitempty"`
	Record   GenerationRecord `json:"record"`
}

type SyncResult struct {
	Synced    int `json:"synced"`
	Remaining int `json:"remaining"`
}

type SaverOptions struct {
	Queues    *QueueStore
	Router    *apirouter.Router
	Direct    GenerationStore
	Token     TokenProvider
	Validator *EntryValidator
	SavePath  string
	Logger    *log.Logger
}

// Saver orchestrates one generation record's durable write: remote
// save through the router, then a degraded direct write, then the
// offline-fallback queue. Every failure path terminates in a local
// write; SaveGeneration never loses the record and never returns an
// error.
type Saver struct {
	queues    *QueueStore
	router    *apirouter.Router
	direct    GenerationStore
	token     TokenProvider
	validator *EntryValidator
	savePath  string
	logger    *log.Logger
}

func NewSaver(opts SaverOptions) *Saver {
	savePath := strings.TrimSpace(opts.SavePath)
	if savePath == "" {
		savePath = defaultSavePath
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Saver{
		queues:    opts.Queues,
		router:    opts.Router,
		direct:    opts.Direct,
		token:     opts.Token,
		validator: opts.Validator,
		savePath:  savePath,
		logger:    logger,
	}
}

func (s *Saver) SaveGeneration(ctx context.Context, userID string, entry GenerationRecord) SaveOutcome {
	entry.UserID = strings.TrimSpace(userID)

	token := s.bearerToken(ctx)
	if entry.UserID == "" || token == "" {
		return s.parkLocally(userID, entry, ReasonUnauthenticated, "")
	}

	if s.validator != nil {
		if err := s.validator.Validate(entry); err != nil {
			s.logger.Printf("[saver] entry failed validation, keeping locally: %v", err)
			return s.parkLocally(userID, entry, ReasonInvalidEntry, err.Error())
		}
	}

	mirrored, remoteErr := s.saveRemote(ctx, token, entry)
	if remoteErr == nil {
		return SaveOutcome{SavedTo: SavedToRemote, Mirrored: mirrored, Record: entry}
	}
	s.logger.Printf("[saver] remote save failed, trying direct write: %v", remoteErr)

	degraded, failure, directErr := s.saveDirect(ctx, &entry)
	if directErr == nil {
		return SaveOutcome{SavedTo: SavedToRemote, Degraded: degraded, Record: entry}
	}

	reason := ReasonInsertFailed
	if failure == StoreFailureForbidden {
		reason = ReasonForbidden
	}
	outcome := s.parkLocally(userID, entry, reason, directErr.Error())
	outcome.Degraded = degraded
	return outcome
}

// SyncOfflineFallback opportunistically drains the offline queue into
// the remote store: remote save first, direct write second, entries
// failing both stay queued. Not reentrant per user scope: concurrent
// invocations for the same scope risk duplicate remote writes.
func (s *Saver) SyncOfflineFallback(ctx context.Context, userID string) SyncResult {
	rows := s.queues.ReadOffline(userID)
	if len(rows) == 0 {
		return SyncResult{}
	}
	token := s.bearerToken(ctx)
	syncedIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		if token != "" {
			if _, err := s.saveRemote(ctx, token, row); err == nil {
				syncedIDs = append(syncedIDs, row.ID)
				continue
			}
		}
		if _, _, err := s.saveDirect(ctx, &row); err == nil {
			syncedIDs = append(syncedIDs, row.ID)
		}
	}
	if len(syncedIDs) > 0 {
		s.queues.RemoveOfflineByIDs(userID, syncedIDs)
	}
	return SyncResult{
		Synced:    len(syncedIDs),
		Remaining: len(rows) - len(syncedIDs),
	}
}

func (s *Saver) bearerToken(ctx context.Context) string {
	if s.token == nil {
		return ""
	}
	token, err := s.token(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Saver) parkLocally(userID string, entry GenerationRecord, reason, message string) SaveOutcome {
	parked, err := s.queues.PushOffline(userID, entry)
	if err != nil {
		// The adapter itself failed; the entry survives only in the
		// returned outcome at this point.
		s.logger.Printf("[saver] offline queue write failed: %v", err)
		parked = entry
	}
	return SaveOutcome{SavedTo: SavedToLocal, Reason: reason, Message: message, Record: parked}
}

type saveResponseBody struct {
	OK   bool `json:"ok"`
	Data struct {
		Mirror struct {
			Mirrored bool `json:"mirrored"`
		} `json:"mirror"`
	} `json:"data"`
	Error *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details []apirouter.FieldError `json:"details"`
	} `json:"error"`
}

func (s *Saver) saveRemote(ctx context.Context, token string, entry GenerationRecord) (bool, error) {
	if s.router == nil {
		return false, ErrNotConfigured
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}
	resp, err := s.router.Execute(ctx, "POST", s.savePath, headers, payload)
	if err != nil {
		return false, err
	}

	var body saveResponseBody
	_ = json.Unmarshal(resp.Body, &body)
	if !resp.OK() || !body.OK {
		input := apirouter.APIErrorInput{Status: resp.Status}
		if body.Error != nil {
			input.Code = body.Error.Code
			input.Message = body.Error.Message
			input.FieldErrors = body.Error.Details
		}
		return false, fmt.Errorf("remote save rejected: %s", apirouter.HumanizeAPIError(input))
	}
	return body.Data.Mirror.Mirrored, nil
}

// saveDirect performs the compatibility write against the data store.
// When the store lacks the optional display-name column, the insert is
// retried once with the field stripped and the write is reported as
// degraded whether or not the retry succeeds.
func (s *Saver) saveDirect(ctx context.Context, entry *GenerationRecord) (bool, StoreFailure, error) {
	if s.direct == nil {
		return false, StoreFailureInsert, ErrNotConfigured
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = NewLocalID(localIDPrefix)
	}
	if strings.TrimSpace(entry.CreatedAt) == "" {
		entry.CreatedAt = nowTimestamp()
	}
	storeErr := s.direct.Insert(ctx, *entry, true)
	if storeErr == nil {
		return false, StoreFailureInsert, nil
	}
	if classifyStoreError(storeErr) == StoreFailureMissingDisplayNameColumn {
		retryErr := s.direct.Insert(ctx, *entry, false)
		if retryErr == nil {
			return true, StoreFailureInsert, nil
		}
		return true, classifyStoreError(retryErr), retryErr
	}
	return false, classifyStoreError(storeErr), storeErr
}
