package authstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/database"
)

// SQLiteStore keeps the app authorization in the freebox_auth table.
// The table is created by the embedded migrations.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a store on an opened and migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load reads the record. An empty table is not an error.
func (s *SQLiteStore) Load(ctx context.Context) (freeboxos.AuthInfo, error) {
	var info freeboxos.AuthInfo
	err := s.db.QueryRowContext(ctx,
		"SELECT app_token, track_id FROM freebox_auth WHERE id = 1",
	).Scan(&info.AppToken, &info.TrackID)
	if errors.Is(err, sql.ErrNoRows) {
		return freeboxos.AuthInfo{}, nil
	}
	if err != nil {
		return freeboxos.AuthInfo{}, fmt.Errorf("loading auth record: %w", err)
	}
	return info, nil
}

// Save inserts or replaces the record.
func (s *SQLiteStore) Save(ctx context.Context, info freeboxos.AuthInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO freebox_auth (id, app_token, track_id, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			app_token  = excluded.app_token,
			track_id   = excluded.track_id,
			updated_at = excluded.updated_at`,
		info.AppToken, info.TrackID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving auth record: %w", err)
	}
	return nil
}

// Clear deletes the record.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM freebox_auth"); err != nil {
		return fmt.Errorf("clearing auth record: %w", err)
	}
	return nil
}
