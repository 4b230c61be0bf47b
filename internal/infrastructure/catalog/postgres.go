package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datacatalyst/streamhub/internal/domain"
)

// PostgresStore reads stream definitions from the catalog database.
// Range, filter and field projections are stored as JSONB. Schema:
//
//	CREATE TABLE stream_definitions (
//	    id             TEXT PRIMARY KEY,
//	    owner_user_id  TEXT NOT NULL,
//	    owner_team_id  TEXT,
//	    range          JSONB NOT NULL,
//	    filter         JSONB NOT NULL DEFAULT '{}',
//	    fields         JSONB NOT NULL DEFAULT '[]',
//	    time_precision TEXT NOT NULL DEFAULT 'ms',
//	    connected      BOOLEAN NOT NULL DEFAULT false
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a catalog store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Stream fetches a definition by id.
func (s *PostgresStore) Stream(ctx context.Context, id domain.StreamID) (*domain.StreamDefinition, error) {
	var (
		def        domain.StreamDefinition
		ownerTeam  *string
		rangeRaw   []byte
		filterRaw  []byte
		fieldsRaw  []byte
		precision  string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, owner_team_id, range, filter, fields, time_precision, connected
		FROM stream_definitions WHERE id = $1`,
		string(id)).Scan(&def.ID, &def.OwnerUserID, &ownerTeam, &rangeRaw, &filterRaw, &fieldsRaw, &precision, &def.Connected)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewStreamNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch stream %s: %w", id, err)
	}
	if ownerTeam != nil {
		def.OwnerTeamID = *ownerTeam
	}
	if err := json.Unmarshal(rangeRaw, &def.Range); err != nil {
		return nil, fmt.Errorf("decode range for stream %s: %w", id, err)
	}
	if err := json.Unmarshal(filterRaw, &def.Filter); err != nil {
		return nil, fmt.Errorf("decode filter for stream %s: %w", id, err)
	}
	if err := json.Unmarshal(fieldsRaw, &def.Fields); err != nil {
		return nil, fmt.Errorf("decode fields for stream %s: %w", id, err)
	}
	def.Precision = domain.TimePrecision(precision)
	return &def, nil
}

// SetConnected updates the display-only connected flag. Best effort by
// contract; callers log and otherwise ignore failures.
func (s *PostgresStore) SetConnected(ctx context.Context, id domain.StreamID, connected bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stream_definitions SET connected = $2 WHERE id = $1`,
		string(id), connected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewStreamNotFoundError(id)
	}
	return nil
}
