package telemetry

import (
	"context"
	"database/sql"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"
)

// ClickHouseSink appends one row per recorded call to an events table, giving
// operators an append-only ledger to query cost/usage trends from outside the
// process. It is optional: the controller only wires it in when
// AppConfig.ClickHouse.Enabled is set, since most deployments are fine with
// the in-process OTel counters alone.
type ClickHouseSink struct {
	db *sql.DB
}

// OpenClickHouseSink connects using the native clickhouse-go driver and
// ensures the events table exists, following the teacher's
// CREATE-TABLE-IF-NOT-EXISTS-in-code pattern for schema management.
func OpenClickHouseSink(ctx context.Context, dsn string) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(opts)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	const schema = `
CREATE TABLE IF NOT EXISTS maestro_telemetry_events (
	recorded_at      DateTime64(3) DEFAULT now64(3),
	mission_id       String,
	agent            String,
	phase            String,
	provider         String,
	model            String,
	prompt_tokens    Int64,
	completion_tokens Int64,
	native_tokens    Int64,
	cost_usd         Float64,
	web_search       UInt8
) ENGINE = MergeTree()
ORDER BY (mission_id, recorded_at)
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, err
	}
	return &ClickHouseSink{db: db}, nil
}

// Append writes one telemetry event row. Failures are logged and swallowed;
// the durable Stats accumulator in missioncontext is the source of truth, so
// a ClickHouse outage never blocks mission progress.
func (s *ClickHouseSink) Append(ctx context.Context, rec CallRecord) {
	webSearch := uint8(0)
	if rec.WebSearch {
		webSearch = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO maestro_telemetry_events
	(mission_id, agent, phase, provider, model, prompt_tokens, completion_tokens, native_tokens, cost_usd, web_search)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MissionID, rec.Agent, rec.Phase, rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.NativeTokens, rec.CostUSD, webSearch,
	)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("mission_id", rec.MissionID).Msg("clickhouse sink: append failed")
	}
}

func (s *ClickHouseSink) Close() error {
	return s.db.Close()
}
