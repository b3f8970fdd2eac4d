// Package postgres implements persistence.Gateway against PostgreSQL using
// pgx, with schema managed by embedded golang-migrate migrations. Grounded
// on the teacher's database.go/sefii/engine.go pgx query shape for the CRUD
// surface, and on _examples/codeready-toolchain-tarsy's
// pkg/database/client.go for the migration runner (golang-migrate + embed.FS
// + iofs source driver against a database/sql.DB opened with the pgx stdlib
// driver).
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for migrate

	"github.com/maestro-research/maestro/internal/mission"
	persist "github.com/maestro-research/maestro/internal/persistence"
)

//go:embed migrations
var migrationsFS embed.FS

// Gateway is a pgxpool-backed persistence.Gateway.
type Gateway struct {
	pool *pgxpool.Pool
}

var _ persist.Gateway = (*Gateway)(nil)

// Open connects to dsn, runs any pending embedded migrations, and returns a
// ready Gateway.
func Open(ctx context.Context, dsn string) (*Gateway, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrating: %w", err)
	}
	return &Gateway{pool: pool}, nil
}

// runMigrations applies every pending embedded migration, the same
// embed-FS-plus-iofs pattern tarsy's database client uses.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	defer source.Close()

	m, err := migrate.NewWithInstance("iofs", source, "maestro", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func (g *Gateway) Close() error {
	g.pool.Close()
	return nil
}

func (g *Gateway) CreateMission(ctx context.Context, m mission.Mission) error {
	settings, err := json.Marshal(m.SettingsSnapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshaling settings snapshot: %w", err)
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO missions (id, user_id, request_text, status, created_at, updated_at,
			settings_snapshot, prompt_tokens, completion_tokens, native_tokens, cost_usd,
			web_searches, generated_document_group_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		m.ID, m.UserID, m.RequestText, m.Status, m.CreatedAt, m.UpdatedAt, settings,
		m.Stats.PromptTokens, m.Stats.CompletionTokens, m.Stats.NativeTokens, m.Stats.CostUSD,
		m.Stats.WebSearches, nullable(m.GeneratedDocumentGroupID))
	return err
}

func (g *Gateway) GetMission(ctx context.Context, missionID string) (mission.Mission, error) {
	var m mission.Mission
	var settings []byte
	var docGroup sql.NullString
	err := g.pool.QueryRow(ctx, `
		SELECT id, user_id, request_text, status, created_at, updated_at, settings_snapshot,
			prompt_tokens, completion_tokens, native_tokens, cost_usd, web_searches,
			generated_document_group_id
		FROM missions WHERE id = $1`, missionID).Scan(
		&m.ID, &m.UserID, &m.RequestText, &m.Status, &m.CreatedAt, &m.UpdatedAt, &settings,
		&m.Stats.PromptTokens, &m.Stats.CompletionTokens, &m.Stats.NativeTokens, &m.Stats.CostUSD,
		&m.Stats.WebSearches, &docGroup)
	if err != nil {
		return mission.Mission{}, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &m.SettingsSnapshot); err != nil {
			return mission.Mission{}, fmt.Errorf("postgres: unmarshaling settings snapshot: %w", err)
		}
	}
	m.GeneratedDocumentGroupID = docGroup.String
	return m, nil
}

func (g *Gateway) PatchMission(ctx context.Context, patch persist.MissionPatch) error {
	if patch.Status != nil {
		if _, err := g.pool.Exec(ctx, `UPDATE missions SET status = $2, updated_at = now() WHERE id = $1`, patch.MissionID, *patch.Status); err != nil {
			return err
		}
	}
	if patch.SettingsSnapshot != nil {
		data, err := json.Marshal(patch.SettingsSnapshot)
		if err != nil {
			return err
		}
		if _, err := g.pool.Exec(ctx, `UPDATE missions SET settings_snapshot = $2, updated_at = now() WHERE id = $1`, patch.MissionID, data); err != nil {
			return err
		}
	}
	if patch.GeneratedDocumentGroupID != nil {
		if _, err := g.pool.Exec(ctx, `UPDATE missions SET generated_document_group_id = $2, updated_at = now() WHERE id = $1`, patch.MissionID, *patch.GeneratedDocumentGroupID); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) AddStats(ctx context.Context, missionID string, delta mission.Stats) error {
	_, err := g.pool.Exec(ctx, `
		UPDATE missions SET
			prompt_tokens = prompt_tokens + $2,
			completion_tokens = completion_tokens + $3,
			native_tokens = native_tokens + $4,
			cost_usd = cost_usd + $5,
			web_searches = web_searches + $6,
			updated_at = now()
		WHERE id = $1`,
		missionID, delta.PromptTokens, delta.CompletionTokens, delta.NativeTokens, delta.CostUSD, delta.WebSearches)
	return err
}

func (g *Gateway) AppendLog(ctx context.Context, entry mission.LogEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO mission_logs (id, mission_id, timestamp, level, agent, phase, message, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, entry.MissionID, entry.Timestamp, entry.Level, entry.Agent, entry.Phase, entry.Message, payload)
	return err
}

func (g *Gateway) GetLogs(ctx context.Context, missionID string, skip, limit int) ([]mission.LogEntry, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, mission_id, timestamp, level, agent, phase, message, payload
		FROM mission_logs WHERE mission_id = $1 ORDER BY timestamp ASC OFFSET $2 LIMIT $3`,
		missionID, skip, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mission.LogEntry
	for rows.Next() {
		var e mission.LogEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.MissionID, &e.Timestamp, &e.Level, &e.Agent, &e.Phase, &e.Message, &payload); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *Gateway) AppendNote(ctx context.Context, n mission.Note) error {
	tags, err := json.Marshal(n.Tags)
	if err != nil {
		return err
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO mission_notes (note_id, mission_id, section_id, content, source_kind,
			source_id, source_title, source_url, source_chunk_id, timestamp, tags)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		n.NoteID, n.MissionID, n.SectionID, n.Content, n.Source.Kind, n.Source.ID,
		n.Source.Title, n.Source.URL, n.Source.ChunkID, n.Timestamp, tags)
	return err
}

func (g *Gateway) GetNotes(ctx context.Context, missionID string, limit, offset int) ([]mission.Note, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT note_id, mission_id, section_id, content, source_kind, source_id, source_title,
			source_url, source_chunk_id, timestamp, tags
		FROM mission_notes WHERE mission_id = $1 ORDER BY timestamp ASC, note_id ASC OFFSET $2 LIMIT $3`,
		missionID, offset, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mission.Note
	for rows.Next() {
		var n mission.Note
		var tags []byte
		if err := rows.Scan(&n.NoteID, &n.MissionID, &n.SectionID, &n.Content, &n.Source.Kind,
			&n.Source.ID, &n.Source.Title, &n.Source.URL, &n.Source.ChunkID, &n.Timestamp, &tags); err != nil {
			return nil, err
		}
		if len(tags) > 0 {
			_ = json.Unmarshal(tags, &n.Tags)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (g *Gateway) UnassignNotesForSections(ctx context.Context, missionID string, sectionIDs []string) error {
	if len(sectionIDs) == 0 {
		return nil
	}
	_, err := g.pool.Exec(ctx, `
		UPDATE mission_notes SET section_id = '' WHERE mission_id = $1 AND section_id = ANY($2)`,
		missionID, sectionIDs)
	return err
}

func (g *Gateway) UpsertGoal(ctx context.Context, goal mission.GoalEntry) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO mission_goals (goal_id, mission_id, text, status, source_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (goal_id) DO UPDATE SET text = $3, status = $4`,
		goal.GoalID, goal.MissionID, goal.Text, goal.Status, goal.SourceAgent, goal.CreatedAt)
	return err
}

func (g *Gateway) ListGoals(ctx context.Context, missionID string) ([]mission.GoalEntry, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT goal_id, mission_id, text, status, source_agent, created_at
		FROM mission_goals WHERE mission_id = $1 ORDER BY created_at ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mission.GoalEntry
	for rows.Next() {
		var gl mission.GoalEntry
		if err := rows.Scan(&gl.GoalID, &gl.MissionID, &gl.Text, &gl.Status, &gl.SourceAgent, &gl.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, gl)
	}
	return out, rows.Err()
}

func (g *Gateway) AppendThought(ctx context.Context, th mission.ThoughtEntry) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO mission_thoughts (thought_id, mission_id, content, agent_name, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		th.ThoughtID, th.MissionID, th.Content, th.AgentName, th.CreatedAt)
	return err
}

func (g *Gateway) ListThoughts(ctx context.Context, missionID string, limit int) ([]mission.ThoughtEntry, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT thought_id, mission_id, content, agent_name, created_at
		FROM mission_thoughts WHERE mission_id = $1 ORDER BY created_at DESC LIMIT $2`,
		missionID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mission.ThoughtEntry
	for rows.Next() {
		var th mission.ThoughtEntry
		if err := rows.Scan(&th.ThoughtID, &th.MissionID, &th.Content, &th.AgentName, &th.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	// reverse back to chronological order (query ran DESC to take the most recent N).
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (g *Gateway) SetScratchpad(ctx context.Context, missionID string, content string) error {
	_, err := g.pool.Exec(ctx, `UPDATE missions SET scratchpad = $2 WHERE id = $1`, missionID, content)
	return err
}

func (g *Gateway) GetScratchpad(ctx context.Context, missionID string) (string, error) {
	var content string
	err := g.pool.QueryRow(ctx, `SELECT scratchpad FROM missions WHERE id = $1`, missionID).Scan(&content)
	return content, err
}

func (g *Gateway) SnapshotOutline(ctx context.Context, h mission.OutlineHistory) error {
	snapshot, err := json.Marshal(h.OutlineSnapshot)
	if err != nil {
		return err
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO mission_outline_history (id, mission_id, round, action, timestamp, mission_goal, outline_snapshot)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		h.ID, h.MissionID, h.Round, h.Action, h.Timestamp, h.MissionGoal, snapshot)
	return err
}

func (g *Gateway) GetOutlineHistory(ctx context.Context, missionID string) ([]mission.OutlineHistory, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, mission_id, round, action, timestamp, mission_goal, outline_snapshot
		FROM mission_outline_history WHERE mission_id = $1 ORDER BY round ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOutlineRows(rows)
}

func (g *Gateway) GetOutlineAtRound(ctx context.Context, missionID string, round int) (mission.OutlineHistory, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, mission_id, round, action, timestamp, mission_goal, outline_snapshot
		FROM mission_outline_history WHERE mission_id = $1 AND round = $2 ORDER BY timestamp DESC LIMIT 1`,
		missionID, round)
	if err != nil {
		return mission.OutlineHistory{}, err
	}
	defer rows.Close()
	out, err := scanOutlineRows(rows)
	if err != nil {
		return mission.OutlineHistory{}, err
	}
	if len(out) == 0 {
		return mission.OutlineHistory{}, fmt.Errorf("postgres: no outline snapshot at round %d for mission %s", round, missionID)
	}
	return out[0], nil
}

func (g *Gateway) LatestRound(ctx context.Context, missionID string) (int, error) {
	var round sql.NullInt32
	err := g.pool.QueryRow(ctx, `SELECT MAX(round) FROM mission_outline_history WHERE mission_id = $1`, missionID).Scan(&round)
	if err != nil {
		return 0, err
	}
	return int(round.Int32), nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanOutlineRows(rows pgxRows) ([]mission.OutlineHistory, error) {
	var out []mission.OutlineHistory
	for rows.Next() {
		var h mission.OutlineHistory
		var snapshot []byte
		if err := rows.Scan(&h.ID, &h.MissionID, &h.Round, &h.Action, &h.Timestamp, &h.MissionGoal, &snapshot); err != nil {
			return nil, err
		}
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &h.OutlineSnapshot); err != nil {
				return nil, fmt.Errorf("postgres: unmarshaling outline snapshot: %w", err)
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (g *Gateway) SaveReportVersion(ctx context.Context, rv mission.ReportVersion) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if rv.IsCurrent {
		if _, err := tx.Exec(ctx, `UPDATE mission_report_versions SET is_current = FALSE WHERE mission_id = $1`, rv.MissionID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO mission_report_versions (id, mission_id, version, content, is_current, revision_notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rv.ID, rv.MissionID, rv.Version, rv.Content, rv.IsCurrent, rv.RevisionNotes, rv.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (g *Gateway) GetReportVersion(ctx context.Context, missionID string, version int) (mission.ReportVersion, error) {
	var row interface {
		Scan(dest ...any) error
	}
	if version <= 0 {
		row = g.pool.QueryRow(ctx, `
			SELECT id, mission_id, version, content, is_current, revision_notes, created_at
			FROM mission_report_versions WHERE mission_id = $1 AND is_current = TRUE`, missionID)
	} else {
		row = g.pool.QueryRow(ctx, `
			SELECT id, mission_id, version, content, is_current, revision_notes, created_at
			FROM mission_report_versions WHERE mission_id = $1 AND version = $2`, missionID, version)
	}
	var rv mission.ReportVersion
	if err := row.Scan(&rv.ID, &rv.MissionID, &rv.Version, &rv.Content, &rv.IsCurrent, &rv.RevisionNotes, &rv.CreatedAt); err != nil {
		return mission.ReportVersion{}, err
	}
	return rv, nil
}

func (g *Gateway) ListReportVersions(ctx context.Context, missionID string) ([]mission.ReportVersion, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, mission_id, version, content, is_current, revision_notes, created_at
		FROM mission_report_versions WHERE mission_id = $1 ORDER BY version ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mission.ReportVersion
	for rows.Next() {
		var rv mission.ReportVersion
		if err := rows.Scan(&rv.ID, &rv.MissionID, &rv.Version, &rv.Content, &rv.IsCurrent, &rv.RevisionNotes, &rv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func limitOrAll(limit int) int64 {
	if limit <= 0 {
		return 1 << 62
	}
	return int64(limit)
}
