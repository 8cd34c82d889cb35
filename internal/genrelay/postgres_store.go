package genrelay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	generationsTableName     = "generations"
	postgresOperationTimeout = 5 * time.Second
	defaultSelectLimit       = 100
	maxSelectLimit           = 1000
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// GenerationQuery selects rows from the generations collection with
// equality and text filters, ordering and range pagination.
type GenerationQuery struct {
	UserID   string
	Search   string // ILIKE match on topic
	Platform string
	Provider string
	Oldest   bool // default order is newest-created-first
	Offset   int
	Limit    int
}

// PostgresGenerationStore is the direct compatibility path to the
// remote data store's generations collection. The connection opens
// lazily so constructing a store never touches the network.
type PostgresGenerationStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresGenerationStore(dsn string) (*PostgresGenerationStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresGenerationStore{dsn: dsn, openDB: sql.Open}, nil
}

func (s *PostgresGenerationStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

// Insert writes one row, reporting structured store errors. With
// includeDisplayName false the optional display-name column is left
// out of the statement entirely, for stores that never grew it.
func (s *PostgresGenerationStore) Insert(ctx context.Context, record GenerationRecord, includeDisplayName bool) *StoreError {
	if err := s.ensureReady(); err != nil {
		return &StoreError{Message: err.Error()}
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	result := "{}"
	if len(record.Result) > 0 {
		result = string(record.Result)
	}
	createdAt := record.CreatedAt
	if strings.TrimSpace(createdAt) == "" {
		createdAt = nowTimestamp()
	}

	var err error
	if includeDisplayName {
		query := fmt.Sprintf(`
			INSERT INTO %s (id, user_id, user_display_name, topic, platform, provider, result, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, pq.QuoteIdentifier(generationsTableName))
		_, err = s.db.ExecContext(opCtx, query,
			record.ID, record.UserID, record.UserDisplayName,
			record.Topic, record.Platform, record.Provider, result, createdAt)
	} else {
		query := fmt.Sprintf(`
			INSERT INTO %s (id, user_id, topic, platform, provider, result, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, pq.QuoteIdentifier(generationsTableName))
		_, err = s.db.ExecContext(opCtx, query,
			record.ID, record.UserID,
			record.Topic, record.Platform, record.Provider, result, createdAt)
	}
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &StoreError{
			Message: pqErr.Message,
			Code:    string(pqErr.Code),
			Details: pqErr.Detail,
			Hint:    pqErr.Hint,
		}
	}
	return &StoreError{Message: err.Error()}
}

// DeleteByIDs removes rows by id, scoped to their owner.
func (s *PostgresGenerationStore) DeleteByIDs(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = $1 AND id = ANY($2)", pq.QuoteIdentifier(generationsTableName))
	result, err := s.db.ExecContext(opCtx, query, userID, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return affectedRows(result)
}

func affectedRows(result sql.Result) (int, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Select returns the matching rows plus the exact total count before
// pagination.
func (s *PostgresGenerationStore) Select(ctx context.Context, query GenerationQuery) ([]GenerationRecord, int, error) {
	if err := s.ensureReady(); err != nil {
		return nil, 0, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	where := []string{"user_id = $1"}
	args := []any{query.UserID}
	if search := strings.TrimSpace(query.Search); search != "" {
		args = append(args, "%"+search+"%")
		where = append(where, fmt.Sprintf("topic ILIKE $%d", len(args)))
	}
	if platform := strings.TrimSpace(query.Platform); platform != "" {
		args = append(args, platform)
		where = append(where, fmt.Sprintf("platform = $%d", len(args)))
	}
	if provider := strings.TrimSpace(query.Provider); provider != "" {
		args = append(args, provider)
		where = append(where, fmt.Sprintf("provider = $%d", len(args)))
	}
	condition := strings.Join(where, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", pq.QuoteIdentifier(generationsTableName), condition)
	var total int
	if err := s.db.QueryRowContext(opCtx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "created_at DESC"
	if query.Oldest {
		order = "created_at ASC"
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultSelectLimit
	}
	if limit > maxSelectLimit {
		limit = maxSelectLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	selectQuery := fmt.Sprintf(`
		SELECT id, user_id, user_display_name, topic, platform, provider, result, created_at
		FROM %s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		pq.QuoteIdentifier(generationsTableName), condition, order, len(args)-1, len(args))

	rows, err := s.db.QueryContext(opCtx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]GenerationRecord, 0, limit)
	for rows.Next() {
		var record GenerationRecord
		var displayName sql.NullString
		var result sql.NullString
		var createdAt time.Time
		if scanErr := rows.Scan(&record.ID, &record.UserID, &displayName,
			&record.Topic, &record.Platform, &record.Provider, &result, &createdAt); scanErr != nil {
			continue
		}
		if displayName.Valid {
			name := displayName.String
			record.UserDisplayName = &name
		}
		if result.Valid && result.String != "" {
			record.Result = json.RawMessage(result.String)
		}
		record.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		records = append(records, record)
	}
	return records, total, rows.Err()
}

func (s *PostgresGenerationStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
