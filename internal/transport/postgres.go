package transport

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaSQL is a template; the table identifier is substituted at runtime.
//
//go:embed schema.sql
var schemaSQL string

var postgresColumns = []string{
	"payload_id", "source", "type", "event_name", "user_id", "email", "fingerprint", "ts", "body",
}

// PGConn is the subset of a pgx pool used by the transport.
type PGConn interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresTransport copies each batch into an events table.
type PostgresTransport struct {
	cfg    config.PostgresTransportConfig
	conn   PGConn
	logger logger.ILogger
}

// NewPostgresTransport connects to cfg.DBURL and bootstraps the schema when
// cfg.EnsureSchema is set.
func NewPostgresTransport(ctx context.Context, cfg config.PostgresTransportConfig, log logger.ILogger) (*PostgresTransport, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	t := NewPostgresTransportWithConn(cfg, pool, log)
	if cfg.EnsureSchema {
		if err := t.EnsureSchema(connectCtx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return t, nil
}

// NewPostgresTransportWithConn creates a transport over an existing connection (for testing).
func NewPostgresTransportWithConn(cfg config.PostgresTransportConfig, conn PGConn, log logger.ILogger) *PostgresTransport {
	return &PostgresTransport{
		cfg:    cfg,
		conn:   conn,
		logger: log.SubLogger("PostgresTransport"),
	}
}

// EnsureSchema creates the events table if needed. Safe to run multiple times.
func (p *PostgresTransport) EnsureSchema(ctx context.Context) error {
	table := pgx.Identifier{p.cfg.Table}.Sanitize()
	index := pgx.Identifier{p.cfg.Table + "_type_ts_idx"}.Sanitize()
	if _, err := p.conn.Exec(ctx, fmt.Sprintf(schemaSQL, table, index)); err != nil {
		return &Error{Transport: p.Name(), Kind: KindStorage, Err: fmt.Errorf("applying schema: %w", err)}
	}
	return nil
}

// Name returns the transport identifier.
func (p *PostgresTransport) Name() string {
	return "postgres"
}

// Close shuts down the connection pool.
func (p *PostgresTransport) Close(ctx context.Context) error {
	p.conn.Close()
	return nil
}

// Send copies all events in one COPY statement; the batch lands entirely or not at all.
func (p *PostgresTransport) Send(ctx context.Context, payload *model.IngestPayload) (*model.IngestResponse, error) {
	if len(payload.Events) == 0 {
		return &model.IngestResponse{Success: true}, nil
	}

	payloadID := uuid.NewString()
	rows := make([][]any, 0, len(payload.Events))
	for _, e := range payload.Events {
		body, err := json.Marshal(e)
		if err != nil {
			return nil, &Error{Transport: p.Name(), Kind: KindEncode, Err: err}
		}
		rows = append(rows, []any{
			payloadID,
			string(payload.Source),
			string(e.Type),
			e.EventName,
			e.UserID,
			e.Email,
			e.Fingerprint,
			e.Time().UTC(),
			body,
		})
	}

	n, err := p.conn.CopyFrom(ctx, pgx.Identifier{p.cfg.Table}, postgresColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return nil, &Error{Transport: p.Name(), Kind: KindStorage, Err: err}
	}

	p.logger.Debugf("copied events: table=%s, rows=%d, payload_id=%s", p.cfg.Table, n, payloadID)
	return &model.IngestResponse{Success: true, Processed: int(n)}, nil
}
