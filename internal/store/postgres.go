package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/farm-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Records are stored as JSONB; amounts and stake totals are mirrored into
// NUMERIC columns for querying.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

func (s *PostgresStore) GetGlobalConfig(ctx context.Context) (*model.GlobalConfig, error) {
	var g model.GlobalConfig
	if err := s.getJSON(ctx, &g, `SELECT state FROM global_config WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("get global config: %w", err)
	}
	return &g, nil
}

func (s *PostgresStore) SaveGlobalConfig(ctx context.Context, g *model.GlobalConfig, ev *model.Event) error {
	state, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO global_config (id, state, treasury_fee_bps, updated_at)
			 VALUES (1, $1, $2, now())
			 ON CONFLICT (id) DO UPDATE
			 SET state = EXCLUDED.state, treasury_fee_bps = EXCLUDED.treasury_fee_bps, updated_at = now()`,
			state, int64(g.TreasuryFeeBps),
		)
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) CreateFarm(ctx context.Context, f *model.FarmState, ev *model.Event) error {
	state, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO farms (id, state, total_staked_amount, total_active_stake, is_frozen, created_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)`,
			f.ID, state, numeric(f.TotalStakedAmount), f.TotalActiveStake.ToDecimal().String(), f.IsFrozen, f.CreatedAt,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("farm %s: %w", f.ID, ErrExists)
		}
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) GetFarm(ctx context.Context, id string) (*model.FarmState, error) {
	var f model.FarmState
	if err := s.getJSON(ctx, &f, `SELECT state FROM farms WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("get farm %s: %w", id, err)
	}
	return &f, nil
}

func (s *PostgresStore) ListFarms(ctx context.Context) ([]model.FarmState, error) {
	rows, err := s.pool.Query(ctx, `SELECT state FROM farms ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStates[model.FarmState](rows)
}

func (s *PostgresStore) GetUser(ctx context.Context, farmID, owner string) (*model.UserState, error) {
	var u model.UserState
	err := s.getJSON(ctx, &u, `SELECT state FROM farm_users WHERE farm_id = $1 AND owner = $2`, farmID, owner)
	if err != nil {
		return nil, fmt.Errorf("get user %s in farm %s: %w", owner, farmID, err)
	}
	return &u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, farmID string) ([]model.UserState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state FROM farm_users WHERE farm_id = $1 ORDER BY user_id`, farmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStates[model.UserState](rows)
}

func (s *PostgresStore) SaveFarmUsers(ctx context.Context, f *model.FarmState, users []*model.UserState, ev *model.Event) error {
	state, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE farms
			 SET state = $2, total_staked_amount = $3::NUMERIC, total_active_stake = $4::NUMERIC,
			     is_frozen = $5, updated_at = now()
			 WHERE id = $1`,
			f.ID, state, numeric(f.TotalStakedAmount), f.TotalActiveStake.ToDecimal().String(), f.IsFrozen,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("farm %s: %w", f.ID, ErrNotFound)
		}

		for _, u := range users {
			if u.FarmID != f.ID {
				return fmt.Errorf("user %s belongs to farm %s, not %s", u.Owner, u.FarmID, f.ID)
			}
			us, err := json.Marshal(u)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO farm_users (farm_id, owner, user_id, state, active_stake, updated_at)
				 VALUES ($1, $2, $3::NUMERIC, $4, $5::NUMERIC, now())
				 ON CONFLICT (farm_id, owner) DO UPDATE
				 SET state = EXCLUDED.state, active_stake = EXCLUDED.active_stake, updated_at = now()`,
				u.FarmID, u.Owner, numeric(u.UserID), us, u.ActiveStake.ToDecimal().String(),
			)
			if err != nil {
				return fmt.Errorf("save user %s: %w", u.Owner, err)
			}
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) GetEvents(ctx context.Context, farmID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, farm_id, owner, kind, reward_index,
		        amount::TEXT, secondary::TEXT, ts::TEXT, created_at
		 FROM farm_events WHERE farm_id = $1 ORDER BY seq`, farmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// --- helpers ---

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) getJSON(ctx context.Context, dst any, query string, args ...any) error {
	var raw []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func insertEvent(ctx context.Context, tx pgx.Tx, e *model.Event) error {
	if e == nil {
		return nil
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO farm_events (id, farm_id, owner, kind, reward_index, amount, secondary, ts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		e.ID, e.FarmID, e.Owner, string(e.Kind), e.RewardIndex,
		numeric(e.Amount), numeric(e.Secondary), numeric(e.Timestamp), e.CreatedAt,
	)
	return err
}

// numeric renders a uint64 for a NUMERIC parameter; BIGINT cannot hold the
// top half of the range.
func numeric(v uint64) string { return strconv.FormatUint(v, 10) }

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanStates[T any](rows pgxRows) ([]T, error) {
	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanEvents(rows pgxRows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var kind, amountS, secondaryS, tsS string

		if err := rows.Scan(&e.ID, &e.FarmID, &e.Owner, &kind, &e.RewardIndex,
			&amountS, &secondaryS, &tsS, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = model.EventKind(kind)

		var err error
		if e.Amount, err = strconv.ParseUint(amountS, 10, 64); err != nil {
			return nil, fmt.Errorf("event %s amount: %w", e.ID, err)
		}
		if e.Secondary, err = strconv.ParseUint(secondaryS, 10, 64); err != nil {
			return nil, fmt.Errorf("event %s secondary: %w", e.ID, err)
		}
		if e.Timestamp, err = strconv.ParseUint(tsS, 10, 64); err != nil {
			return nil, fmt.Errorf("event %s ts: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
