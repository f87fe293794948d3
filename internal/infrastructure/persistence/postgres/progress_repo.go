package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressStore implements progress.Store for PostgreSQL.
type ProgressStore struct {
	conn *Connection
}

// NewProgressStore creates a new ProgressStore.
func NewProgressStore(conn *Connection) *ProgressStore {
	return &ProgressStore{conn: conn}
}

var _ progress.Store = (*ProgressStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Records
// ─────────────────────────────────────────────────────────────────────────────

// Get returns the record of a user.
func (s *ProgressStore) Get(ctx context.Context, userID string) (*progress.Record, error) {
	query := `
		SELECT document, version, created_at, updated_at
		FROM progress_records
		WHERE user_id = $1
	`

	var (
		raw                  []byte
		version              int64
		createdAt, updatedAt time.Time
	)
	err := s.conn.QueryRow(ctx, query, userID).Scan(&raw, &version, &createdAt, &updatedAt)
	if IsNoRows(err) {
		return nil, shared.ErrRecordNotFound
	}
	if err != nil {
		return nil, mapStoreError("get record", err)
	}

	var doc recordDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", userID, err)
	}

	rec, err := doc.toRecord(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", userID, err)
	}
	rec.Version = version
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	rec.Normalize()

	return rec, nil
}

// Save writes the record and its history entries in one transaction.
func (s *ProgressStore) Save(ctx context.Context, rec *progress.Record, history []progress.HistoryEntry) error {
	raw, err := json.Marshal(newRecordDocument(rec))
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.UserID, err)
	}

	err = s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if rec.IsNew() {
			if err := insertRecord(ctx, tx, rec, raw); err != nil {
				return err
			}
		} else if err := updateRecord(ctx, tx, rec, raw); err != nil {
			return err
		}
		return insertHistory(ctx, tx, history)
	})
	if err != nil {
		if errors.Is(err, shared.ErrVersionConflict) {
			return shared.ErrVersionConflict
		}
		return mapStoreError("save record", err)
	}

	rec.Version++
	return nil
}

func insertRecord(ctx context.Context, q Querier, rec *progress.Record, raw []byte) error {
	query := `
		INSERT INTO progress_records (user_id, document, experience, level, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (user_id) DO NOTHING
	`

	tag, err := q.Exec(ctx, query, rec.UserID, raw, rec.Experience, rec.Level, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrVersionConflict
	}
	return nil
}

func updateRecord(ctx context.Context, q Querier, rec *progress.Record, raw []byte) error {
	query := `
		UPDATE progress_records SET
			document = $1,
			experience = $2,
			level = $3,
			version = version + 1,
			updated_at = $4
		WHERE user_id = $5 AND version = $6
	`

	tag, err := q.Exec(ctx, query, raw, rec.Experience, rec.Level, rec.UpdatedAt, rec.UserID, rec.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrVersionConflict
	}
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, history []progress.HistoryEntry) error {
	if len(history) == 0 {
		return nil
	}

	query := `
		INSERT INTO xp_history (user_id, amount, reason, old_xp, new_xp, event_kind, resource_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	batch := &pgx.Batch{}
	for _, h := range history {
		batch.Queue(query, h.UserID, h.Amount, h.Reason, h.OldXP, h.NewXP, string(h.EventKind), h.ResourceID, h.OccurredAt)
	}

	results := tx.SendBatch(ctx, batch)
	for range history {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to insert xp history: %w", err)
		}
	}
	return results.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// History
// ─────────────────────────────────────────────────────────────────────────────

// ListHistory returns the latest history entries of a user, newest first.
func (s *ProgressStore) ListHistory(ctx context.Context, userID string, limit int) ([]progress.HistoryEntry, error) {
	query := `
		SELECT user_id, amount, reason, old_xp, new_xp, event_kind, resource_id, occurred_at
		FROM xp_history
		WHERE user_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`

	rows, err := s.conn.Query(ctx, query, userID, progress.NormalizeHistoryLimit(limit))
	if err != nil {
		return nil, mapStoreError("list history", err)
	}
	defer rows.Close()

	entries := make([]progress.HistoryEntry, 0)
	for rows.Next() {
		var (
			h    progress.HistoryEntry
			kind string
		)
		if err := rows.Scan(&h.UserID, &h.Amount, &h.Reason, &h.OldXP, &h.NewXP, &kind, &h.ResourceID, &h.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan xp history: %w", err)
		}
		h.EventKind = progress.EventKind(kind)
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreError("list history", err)
	}

	return entries, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// mapStoreError turns driver failures into domain store errors.
func mapStoreError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, shared.ErrStoreTimeout, err)
	case IsConnectionError(err):
		return fmt.Errorf("%s: %w: %v", op, shared.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

// recordDocument is the JSONB shape of a progress record.
type recordDocument struct {
	Experience             int                      `json:"experience"`
	Level                  int                      `json:"level"`
	Streak                 streakDocument           `json:"streak"`
	Badges                 []string                 `json:"badges"`
	VideoProgress          map[string]float64       `json:"video_progress"`
	CompletedResources     []string                 `json:"completed_resources"`
	CompletedResourceCount int                      `json:"completed_resource_count"`
	CompletedPathCount     int                      `json:"completed_path_count"`
	LastLoginDate          string                   `json:"last_login_date,omitempty"`
	PathwayOpens           map[string]timeutil.Date `json:"pathway_opens,omitempty"`
}

type streakDocument struct {
	Current        int    `json:"current"`
	Longest        int    `json:"longest"`
	LastActiveDate string `json:"last_active_date,omitempty"`
}

func newRecordDocument(rec *progress.Record) recordDocument {
	doc := recordDocument{
		Experience: rec.Experience,
		Level:      rec.Level,
		Streak: streakDocument{
			Current:        rec.Streak.Current,
			Longest:        rec.Streak.Longest,
			LastActiveDate: string(rec.Streak.LastActiveDate),
		},
		Badges:                 make([]string, 0, len(rec.Badges)),
		VideoProgress:          rec.VideoProgress,
		CompletedResources:     make([]string, 0, len(rec.CompletedResources)),
		CompletedResourceCount: rec.CompletedResourceCount,
		CompletedPathCount:     rec.CompletedPathCount,
		LastLoginDate:          string(rec.LastLoginDate),
		PathwayOpens:           rec.PathwayOpens,
	}
	for _, id := range rec.EarnedBadges() {
		doc.Badges = append(doc.Badges, string(id))
	}
	for id, done := range rec.CompletedResources {
		if done {
			doc.CompletedResources = append(doc.CompletedResources, id)
		}
	}
	return doc
}

// toRecord rebuilds the domain record. Stored dates must be ISO calendar dates.
func (d recordDocument) toRecord(userID string) (*progress.Record, error) {
	lastActive, err := timeutil.ParseDate(d.Streak.LastActiveDate)
	if err != nil {
		return nil, fmt.Errorf("streak: %w", err)
	}
	lastLogin, err := timeutil.ParseDate(d.LastLoginDate)
	if err != nil {
		return nil, fmt.Errorf("last login: %w", err)
	}

	rec := &progress.Record{
		UserID:     userID,
		Experience: d.Experience,
		Level:      d.Level,
		Streak: progress.Streak{
			Current:        d.Streak.Current,
			Longest:        d.Streak.Longest,
			LastActiveDate: lastActive,
		},
		Badges:                 make(map[progress.BadgeID]bool, len(d.Badges)),
		VideoProgress:          d.VideoProgress,
		CompletedResources:     make(map[string]bool, len(d.CompletedResources)),
		CompletedResourceCount: d.CompletedResourceCount,
		CompletedPathCount:     d.CompletedPathCount,
		LastLoginDate:          lastLogin,
		PathwayOpens:           make(map[string]timeutil.Date, len(d.PathwayOpens)),
	}
	for id, day := range d.PathwayOpens {
		parsed, err := timeutil.ParseDate(string(day))
		if err != nil {
			return nil, fmt.Errorf("pathway %s: %w", id, err)
		}
		rec.PathwayOpens[id] = parsed
	}
	for _, id := range d.Badges {
		rec.Badges[progress.BadgeID(id)] = true
	}
	for _, id := range d.CompletedResources {
		rec.CompletedResources[id] = true
	}
	return rec, nil
}
