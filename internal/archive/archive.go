// Package archive mirrors journal rows into Postgres for offline
// analysis. It is strictly additive: the JSONL files stay authoritative
// and nothing in the trading path reads from here. Inserts run on a
// background worker so a slow database never touches a scan.
package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rmsfid11-commits/trading-bot-sub000/internal/ledger"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS trade_archive (
	id          BIGSERIAL PRIMARY KEY,
	tenant_id   TEXT        NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	symbol      TEXT        NOT NULL,
	action      TEXT        NOT NULL,
	price       DOUBLE PRECISION NOT NULL,
	quantity    DOUBLE PRECISION NOT NULL,
	amount      DOUBLE PRECISION NOT NULL,
	reason      TEXT,
	pnl_pct     DOUBLE PRECISION,
	pnl_amount  DOUBLE PRECISION,
	order_id    TEXT,
	snapshot    JSONB
);
CREATE INDEX IF NOT EXISTS trade_archive_tenant_ts ON trade_archive (tenant_id, ts);
`

const insertSQL = `
INSERT INTO trade_archive (tenant_id, ts, symbol, action, price, quantity, amount, reason, pnl_pct, pnl_amount, order_id, snapshot)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

type row struct {
	tenant string
	entry  ledger.Entry
}

// Sink writes journal rows to Postgres asynchronously.
type Sink struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
	ch   chan row
	done chan struct{}
}

// Connect opens the pool, ensures the table exists and starts the
// insert worker. An unreachable database is an error at startup only;
// later failures are logged and dropped.
func Connect(ctx context.Context, dsn string, log zerolog.Logger) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	s := &Sink{
		pool: pool,
		log:  log.With().Str("component", "archive").Logger(),
		ch:   make(chan row, 256),
		done: make(chan struct{}),
	}
	go s.worker()
	return s, nil
}

// Record queues one row. A full queue drops the row rather than block
// the trading loop.
func (s *Sink) Record(tenantID string, e ledger.Entry) {
	select {
	case s.ch <- row{tenant: tenantID, entry: e}:
	default:
		s.log.Warn().Str("symbol", e.Symbol).Msg("archive queue full, row dropped")
	}
}

func (s *Sink) worker() {
	defer close(s.done)
	for r := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.insert(ctx, r)
		cancel()
	}
}

func (s *Sink) insert(ctx context.Context, r row) {
	e := r.entry
	var snapshot []byte
	if e.Snapshot != nil {
		snapshot, _ = json.Marshal(e.Snapshot)
	}
	_, err := s.pool.Exec(ctx, insertSQL,
		r.tenant, e.Time(), e.Symbol, e.Action, e.Price, e.Quantity, e.Amount,
		e.Reason, e.PnlPct, e.PnlAmount, e.OrderID, snapshot)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", e.Symbol).Msg("archive insert failed")
	}
}

// Close drains the queue and releases the pool.
func (s *Sink) Close() {
	close(s.ch)
	<-s.done
	s.pool.Close()
}
