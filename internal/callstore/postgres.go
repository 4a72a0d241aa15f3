package callstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call state in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_records (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			campaign_id TEXT,
			contact_id TEXT,
			agent_id TEXT,
			phone_number TEXT NOT NULL,
			call_sid TEXT,
			status TEXT NOT NULL,
			retry_count INT NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMPTZ,
			failure_reason TEXT,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			start_time TIMESTAMPTZ,
			last_error_at TIMESTAMPTZ
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_call_sid ON call_records (call_sid);`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_retry_due ON call_records (status, next_retry_at);`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_call ON conversation_turns (call_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS agent_configs (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			voice_id TEXT NOT NULL DEFAULT '',
			opening_message TEXT NOT NULL DEFAULT '',
			personality TEXT NOT NULL DEFAULT '',
			knowledge_base TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			phone_number TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			custom_script TEXT NOT NULL DEFAULT '',
			custom_knowledge TEXT NOT NULL DEFAULT ''
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateCall(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusInitiated
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_records
			(id, owner, campaign_id, contact_id, agent_id, phone_number, call_sid, status, retry_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Owner, rec.CampaignID, rec.ContactID, rec.AgentID,
		rec.PhoneNumber, rec.CallSID, rec.Status, rec.RetryCount, rec.CreatedAt,
	)
	if err != nil {
		return CallRecord{}, fmt.Errorf("create call: %w", err)
	}
	return rec, nil
}

const callColumns = `id, owner, COALESCE(campaign_id,''), COALESCE(contact_id,''), COALESCE(agent_id,''),
	phone_number, COALESCE(call_sid,''), status, retry_count, next_retry_at,
	COALESCE(failure_reason,''), COALESCE(error_message,''), created_at, start_time, last_error_at`

func (s *PostgresStore) GetCall(ctx context.Context, id string) (CallRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM call_records WHERE id=$1`, id)
	return scanCall(row)
}

func (s *PostgresStore) GetCallBySID(ctx context.Context, callSID string) (CallRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM call_records WHERE call_sid=$1`, callSID)
	return scanCall(row)
}

func scanCall(row pgx.Row) (CallRecord, error) {
	var rec CallRecord
	err := row.Scan(
		&rec.ID, &rec.Owner, &rec.CampaignID, &rec.ContactID, &rec.AgentID,
		&rec.PhoneNumber, &rec.CallSID, &rec.Status, &rec.RetryCount, &rec.NextRetryAt,
		&rec.FailureReason, &rec.ErrorMessage, &rec.CreatedAt, &rec.StartTime, &rec.LastErrorAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("scan call record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) UpdateCallStatus(ctx context.Context, id string, status Status, startedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE call_records SET status=$2, start_time=COALESCE($3, start_time) WHERE id=$1`,
		id, status, startedAt,
	)
	if err != nil {
		return fmt.Errorf("update call status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetCallSID(ctx context.Context, id, callSID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE call_records SET call_sid=$2 WHERE id=$1`,
		id, callSID,
	)
	if err != nil {
		return fmt.Errorf("set call sid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkCallFailed(ctx context.Context, id, failureReason, errorMessage string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE call_records
		 SET status=$2, failure_reason=$3, error_message=$4, last_error_at=$5, next_retry_at=NULL
		 WHERE id=$1`,
		id, StatusFailed, failureReason, errorMessage, at,
	)
	if err != nil {
		return fmt.Errorf("mark call failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ScheduleCallRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, failureReason, errorMessage string, at time.Time) error {
	// GREATEST keeps retry_count monotonic even under a concurrent duplicate
	// evaluation of the same failure.
	tag, err := s.pool.Exec(ctx,
		`UPDATE call_records
		 SET status=$2, retry_count=GREATEST(retry_count, $3), next_retry_at=$4,
		     failure_reason=$5, error_message=$6, last_error_at=$7
		 WHERE id=$1`,
		id, StatusRetryScheduled, retryCount, nextRetryAt, failureReason, errorMessage, at,
	)
	if err != nil {
		return fmt.Errorf("schedule call retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListRetryScheduled(ctx context.Context, before time.Time, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+callColumns+` FROM call_records
		 WHERE status=$1 AND next_retry_at <= $2
		 ORDER BY next_retry_at ASC LIMIT $3`,
		StatusRetryScheduled, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list retry scheduled: %w", err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retry scheduled rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, turn ConversationTurn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_turns (id, call_id, speaker, text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		turn.ID, turn.CallID, turn.Speaker, turn.Text, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) TurnsForCall(ctx context.Context, callID string) ([]ConversationTurn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, speaker, text, created_at
		 FROM conversation_turns WHERE call_id=$1 ORDER BY created_at ASC`,
		callID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []ConversationTurn
	for rows.Next() {
		var t ConversationTurn
		if err := rows.Scan(&t.ID, &t.CallID, &t.Speaker, &t.Text, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (AgentConfig, error) {
	var a AgentConfig
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner, name, voice_id, opening_message, personality, knowledge_base, system_prompt
		 FROM agent_configs WHERE id=$1`, id,
	).Scan(&a.ID, &a.Owner, &a.Name, &a.VoiceID, &a.OpeningMessage, &a.Personality, &a.KnowledgeBase, &a.SystemPrompt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AgentConfig{}, ErrNotFound
	}
	if err != nil {
		return AgentConfig{}, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetContact(ctx context.Context, id string) (Contact, error) {
	var c Contact
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner, name, company, phone_number FROM contacts WHERE id=$1`, id,
	).Scan(&c.ID, &c.Owner, &c.Name, &c.Company, &c.PhoneNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	var c Campaign
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner, name, custom_script, custom_knowledge FROM campaigns WHERE id=$1`, id,
	).Scan(&c.ID, &c.Owner, &c.Name, &c.CustomScript, &c.CustomKnowledge)
	if errors.Is(err, pgx.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
