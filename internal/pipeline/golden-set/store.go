// internal/pipeline/golden-set/store.go
package goldenset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mygads/govconnect-sub008/internal/models"
)

// PostgresStore keeps golden-set runs in Postgres. Runs are never updated
// after insertion.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertRunQuery = `
	INSERT INTO golden_set_runs (
		id, started_at, completed_at, model, item_count,
		intent_accuracy, keyword_accuracy, overall_accuracy, passed
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const insertItemQuery = `
	INSERT INTO golden_set_items (
		run_id, item_id, query, expected_intent, expected_keywords,
		predicted_intent, response, intent_match, keyword_match, score,
		latency_ms, error
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func (s *PostgresStore) SaveRun(ctx context.Context, run *models.GoldenSetRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("golden-set tx begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertRunQuery,
		run.ID, run.StartedAt, run.CompletedAt, run.Model, run.ItemCount,
		run.IntentAccuracy, run.KeywordAccuracy, run.OverallAccuracy, run.Passed,
	); err != nil {
		return fmt.Errorf("golden-set run insert: %w", err)
	}

	for _, item := range run.Items {
		keywords, err := json.Marshal(item.ExpectedKeywords)
		if err != nil {
			return fmt.Errorf("golden-set keywords marshal: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertItemQuery,
			run.ID, item.ID, item.Query, item.ExpectedIntent, keywords,
			item.PredictedIntent, item.Response, item.IntentMatch, item.KeywordMatch,
			item.Score, item.LatencyMs, item.Error,
		); err != nil {
			return fmt.Errorf("golden-set item insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("golden-set tx commit: %w", err)
	}
	return nil
}

const listRunsQuery = `
	SELECT id, started_at, completed_at, model, item_count,
	       intent_accuracy, keyword_accuracy, overall_accuracy, passed
	FROM golden_set_runs
	ORDER BY started_at DESC
	LIMIT $1`

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*models.GoldenSetRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, listRunsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("golden-set runs query: %w", err)
	}
	defer rows.Close()

	var runs []*models.GoldenSetRun
	for rows.Next() {
		run := &models.GoldenSetRun{}
		if err := rows.Scan(
			&run.ID, &run.StartedAt, &run.CompletedAt, &run.Model, &run.ItemCount,
			&run.IntentAccuracy, &run.KeywordAccuracy, &run.OverallAccuracy, &run.Passed,
		); err != nil {
			return nil, fmt.Errorf("golden-set run scan: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const getRunQuery = `
	SELECT id, started_at, completed_at, model, item_count,
	       intent_accuracy, keyword_accuracy, overall_accuracy, passed
	FROM golden_set_runs
	WHERE id = $1`

const getItemsQuery = `
	SELECT item_id, query, expected_intent, expected_keywords,
	       predicted_intent, response, intent_match, keyword_match, score,
	       latency_ms, error
	FROM golden_set_items
	WHERE run_id = $1
	ORDER BY item_id`

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.GoldenSetRun, error) {
	run := &models.GoldenSetRun{}
	err := s.db.QueryRowContext(ctx, getRunQuery, id).Scan(
		&run.ID, &run.StartedAt, &run.CompletedAt, &run.Model, &run.ItemCount,
		&run.IntentAccuracy, &run.KeywordAccuracy, &run.OverallAccuracy, &run.Passed,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("golden-set run query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, getItemsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("golden-set items query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.GoldenSetItem
		var keywords []byte
		if err := rows.Scan(
			&item.ID, &item.Query, &item.ExpectedIntent, &keywords,
			&item.PredictedIntent, &item.Response, &item.IntentMatch, &item.KeywordMatch,
			&item.Score, &item.LatencyMs, &item.Error,
		); err != nil {
			return nil, fmt.Errorf("golden-set item scan: %w", err)
		}
		if len(keywords) > 0 {
			if err := json.Unmarshal(keywords, &item.ExpectedKeywords); err != nil {
				return nil, fmt.Errorf("golden-set keywords unmarshal: %w", err)
			}
		}
		run.Items = append(run.Items, item)
	}
	return run, rows.Err()
}
