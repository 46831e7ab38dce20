package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

var (
	_ repo.AlertStore  = (*Store)(nil)
	_ repo.CountStore  = (*Store)(nil)
	_ repo.ResultStore = (*Store)(nil)
)

// Schema is applied by Migrate; every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS alert_state (
  target_id      TEXT PRIMARY KEY,
  last_signature TEXT NOT NULL,
  last_sent_at  TIMESTAMPTZ NULL
);

CREATE TABLE IF NOT EXISTS counters (
  target_id      TEXT PRIMARY KEY,
  previous_count INTEGER NOT NULL CHECK (previous_count >= 0),
  lifetime_total INTEGER NOT NULL DEFAULT 0,
  updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS verdicts (
  id          BIGSERIAL PRIMARY KEY,
  target_id   TEXT NOT NULL,
  signature   TEXT NOT NULL,
  http_status INTEGER NULL,
  latency_ms  DOUBLE PRECISION NOT NULL,
  outcomes    TEXT NOT NULL,
  checked_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verdicts_target_time ON verdicts (target_id, checked_at DESC);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ---- AlertStore ----

func (s *Store) Get(ctx context.Context, targetID string) (*repo.AlertRecord, error) {
	const q = `SELECT last_signature, last_sent_at FROM alert_state WHERE target_id=$1`
	r := repo.AlertRecord{TargetID: targetID}
	var lastSent *time.Time
	err := s.pool.QueryRow(ctx, q, targetID).Scan(&r.LastSignature, &lastSent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	r.LastSentAt = lastSent
	return &r, nil
}

func (s *Store) Set(ctx context.Context, targetID, signature string, sentAt time.Time) error {
	const q = `
		INSERT INTO alert_state (target_id, last_signature, last_sent_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (target_id)
		DO UPDATE SET last_signature=EXCLUDED.last_signature, last_sent_at=EXCLUDED.last_sent_at
	`
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	if _, err := s.pool.Exec(ctx, q, targetID, signature, ts); err != nil {
		return fmt.Errorf("set alert: %w", err)
	}
	return nil
}

// ---- CountStore ----

func (s *Store) GetCount(ctx context.Context, id domain.TargetID) (*domain.CountState, error) {
	const q = `SELECT previous_count, lifetime_total, updated_at FROM counters WHERE target_id=$1`
	st := domain.CountState{TargetID: id}
	err := s.pool.QueryRow(ctx, q, string(id)).Scan(&st.PreviousCount, &st.LifetimeTotal, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get count: %w", err)
	}
	return &st, nil
}

func (s *Store) PutCount(ctx context.Context, st domain.CountState) error {
	const q = `
		INSERT INTO counters (target_id, previous_count, lifetime_total, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (target_id)
		DO UPDATE SET previous_count=EXCLUDED.previous_count,
		              lifetime_total=EXCLUDED.lifetime_total,
		              updated_at=EXCLUDED.updated_at
	`
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, q, string(st.TargetID), st.PreviousCount, st.LifetimeTotal, st.UpdatedAt); err != nil {
		return fmt.Errorf("put count: %w", err)
	}
	return nil
}

// ---- ResultStore ----

func (s *Store) Append(ctx context.Context, v domain.Verdict) error {
	outcomes, err := json.Marshal(v.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	var statusPtr *int
	if v.Result.StatusCode != nil {
		code := *v.Result.StatusCode
		statusPtr = &code
	}
	checkedAt := v.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO verdicts
		   (target_id, signature, http_status, latency_ms, outcomes, checked_at)
		 VALUES
		   ($1, $2, $3, $4, $5, $6)`,
		string(v.TargetID), v.Signature(), statusPtr,
		float64(v.Result.Latency)/float64(time.Millisecond), string(outcomes), checkedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context) ([]domain.Verdict, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (target_id)
       target_id,
       http_status,
       latency_ms,
       outcomes,
       checked_at
  FROM verdicts
 ORDER BY target_id, checked_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest: %w", err)
	}
	defer rows.Close()

	var out []domain.Verdict
	for rows.Next() {
		var (
			targetID  string
			status    *int
			latencyMS float64
			outcomes  string
			checkedAt time.Time
		)
		if err := rows.Scan(&targetID, &status, &latencyMS, &outcomes, &checkedAt); err != nil {
			return nil, fmt.Errorf("scan latest: %w", err)
		}
		v := domain.Verdict{
			TargetID:  domain.TargetID(targetID),
			CheckedAt: checkedAt,
			Result: domain.FetchResult{
				StatusCode: status,
				Latency:    time.Duration(latencyMS * float64(time.Millisecond)),
				FetchedAt:  checkedAt,
			},
		}
		if err := json.Unmarshal([]byte(outcomes), &v.Outcomes); err != nil {
			s.log.Warn("latest_decode_outcomes", zap.String("target_id", targetID), zap.Error(err))
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
