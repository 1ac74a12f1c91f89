package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakewatch/internal/model"
)

// Store provides Postgres persistence for stake movement records.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables this store writes to.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS stake_movements (
			block_number BIGINT NOT NULL,
			ordinal INT NOT NULL,
			extrinsic_index INT,
			direction TEXT NOT NULL,
			method TEXT NOT NULL,
			address TEXT NOT NULL,
			hotkey TEXT NOT NULL,
			coldkey TEXT NOT NULL,
			amount_rao NUMERIC(30, 0) NOT NULL,
			netuid TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (block_number, ordinal)
		);
		CREATE TABLE IF NOT EXISTS monitor_state (
			name TEXT PRIMARY KEY,
			last_processed_block BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

// PutRecordBatch upserts a batch of records. Aggregation is deterministic,
// so replaying a block overwrites rows with identical content.
func (s *Store) PutRecordBatch(ctx context.Context, records []model.StakeMovementRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, record := range records {
		var extrinsicIndex *int64
		if record.ExtrinsicIndex != nil {
			v := int64(*record.ExtrinsicIndex)
			extrinsicIndex = &v
		}
		batch.Queue(`
			INSERT INTO stake_movements (
				block_number, ordinal, extrinsic_index, direction, method,
				address, hotkey, coldkey, amount_rao, netuid
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (block_number, ordinal)
			DO UPDATE SET
				extrinsic_index = EXCLUDED.extrinsic_index,
				direction = EXCLUDED.direction,
				method = EXCLUDED.method,
				address = EXCLUDED.address,
				hotkey = EXCLUDED.hotkey,
				coldkey = EXCLUDED.coldkey,
				amount_rao = EXCLUDED.amount_rao,
				netuid = EXCLUDED.netuid
		`,
			int64(record.BlockNumber),
			int32(record.Ordinal),
			extrinsicIndex,
			string(record.Direction),
			record.MethodLabel,
			record.Address,
			record.Hotkey,
			record.Coldkey,
			record.AmountRao,
			record.Netuid.String(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM monitor_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return block, true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitor_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}
