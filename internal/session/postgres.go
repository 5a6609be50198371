package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore persists sessions in the dapp_sessions table created by
// internal/platform/migrations.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type sessionRow struct {
	Origin    string    `db:"origin"`
	GenesisID string    `db:"genesis_id"`
	Kind      string    `db:"kind"`
	Address   string    `db:"address"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r sessionRow) session() Session {
	return Session{
		Origin:    r.Origin,
		GenesisID: r.GenesisID,
		Kind:      ParseKind(r.Kind),
		Address:   r.Address,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

const selectSessions = `
	SELECT origin, genesis_id, kind, address, name, created_at, updated_at
	FROM dapp_sessions`

func (p *PostgresStore) Get(ctx context.Context, origin, genesisID string) (Session, error) {
	o, g := Key(origin, genesisID)
	var row sessionRow
	err := p.db.GetContext(ctx, &row, selectSessions+` WHERE origin = $1 AND genesis_id = $2`, o, g)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return row.session(), nil
}

func (p *PostgresStore) Put(ctx context.Context, s Session) error {
	s = stamp(s, time.Now().UTC())
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dapp_sessions (origin, genesis_id, kind, address, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (origin, genesis_id) DO UPDATE
		SET kind = EXCLUDED.kind, address = EXCLUDED.address, name = EXCLUDED.name, updated_at = EXCLUDED.updated_at
	`, s.Origin, s.GenesisID, s.Kind.String(), s.Address, s.Name, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, origin, genesisID string) (bool, error) {
	o, g := Key(origin, genesisID)
	res, err := p.db.ExecContext(ctx, `DELETE FROM dapp_sessions WHERE origin = $1 AND genesis_id = $2`, o, g)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) DeleteByAddress(ctx context.Context, address string) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM dapp_sessions WHERE lower(address) = lower($1)`, address)
	if err != nil {
		return 0, fmt.Errorf("delete sessions by address: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (p *PostgresStore) List(ctx context.Context) ([]Session, error) {
	var rows []sessionRow
	if err := p.db.SelectContext(ctx, &rows, selectSessions+` ORDER BY origin, genesis_id`); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.session())
	}
	return out, nil
}
