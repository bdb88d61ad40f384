package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"arbor/internal/domain"
)

// ArchivedSnapshot is one persisted conversation export. The snapshot
// body is stored opaquely as JSONB; version gating and dangling-parent
// repair happen in the codec on restore, not here.
type ArchivedSnapshot struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"createdAt"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
}

// SnapshotArchive persists exported snapshots so browser sessions can
// be restored later.
type SnapshotArchive struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// NewSnapshotArchive creates a new snapshot archive repository
func NewSnapshotArchive(config *RepositoryConfig) *SnapshotArchive {
	return &SnapshotArchive{
		pool:   config.Pool,
		tables: config.Tables,
	}
}

// EnsureSchema creates the archive table if it does not exist.
func (r *SnapshotArchive) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			snapshot JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, r.tables.Snapshots)

	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_session_id_idx ON %s (session_id, created_at DESC)
	`, r.tables.Snapshots, r.tables.Snapshots)

	if _, err := r.pool.Exec(ctx, indexQuery); err != nil {
		return fmt.Errorf("create snapshots index: %w", err)
	}

	return nil
}

// Save stores a snapshot and returns its archive record.
func (r *SnapshotArchive) Save(ctx context.Context, sessionID, title string, snapshot json.RawMessage) (*ArchivedSnapshot, error) {
	record := &ArchivedSnapshot{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Title:     title,
		Snapshot:  snapshot,
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, session_id, title, snapshot, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING created_at
	`, r.tables.Snapshots)

	err := r.pool.QueryRow(ctx, query,
		record.ID,
		record.SessionID,
		record.Title,
		record.Snapshot,
	).Scan(&record.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	return record, nil
}

// Get retrieves an archived snapshot by id, including its body.
func (r *SnapshotArchive) Get(ctx context.Context, id string) (*ArchivedSnapshot, error) {
	query := fmt.Sprintf(`
		SELECT id, session_id, title, snapshot, created_at
		FROM %s
		WHERE id = $1
	`, r.tables.Snapshots)

	var record ArchivedSnapshot
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&record.ID,
		&record.SessionID,
		&record.Title,
		&record.Snapshot,
		&record.CreatedAt,
	)

	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("snapshot %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	return &record, nil
}

// List retrieves snapshot metadata for a session, newest first. The
// snapshot bodies are left out; they can be large.
func (r *SnapshotArchive) List(ctx context.Context, sessionID string) ([]ArchivedSnapshot, error) {
	query := fmt.Sprintf(`
		SELECT id, session_id, title, created_at
		FROM %s
		WHERE session_id = $1
		ORDER BY created_at DESC
	`, r.tables.Snapshots)

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var records []ArchivedSnapshot
	for rows.Next() {
		var record ArchivedSnapshot
		if err := rows.Scan(&record.ID, &record.SessionID, &record.Title, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}

	return records, nil
}

// Delete removes an archived snapshot.
func (r *SnapshotArchive) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Snapshots)

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("snapshot %s: %w", id, domain.ErrNotFound)
	}

	return nil
}
