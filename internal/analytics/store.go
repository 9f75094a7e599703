// internal/analytics/store.go
package analytics

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mygads/govconnect-sub008/internal/common/database"
)

// Store persists analytics records.
type Store interface {
	Insert(ctx context.Context, record *Record) error
}

// PostgresStore writes records to the message_analytics table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertRecordQuery = `
	INSERT INTO message_analytics (
		id, tenant_id, sender_id, channel, intent, status, error_code,
		model, input_tokens, output_tokens, cost_usd, latency_ms,
		knowledge_used, knowledge_score, degraded, sentiment, language,
		trace_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

func (s *PostgresStore) Insert(ctx context.Context, record *Record) error {
	_, err := s.db.ExecContext(ctx, insertRecordQuery,
		record.ID, record.TenantID, record.SenderID, record.Channel,
		record.Intent, record.Status, record.ErrorCode,
		record.Model, record.InputTokens, record.OutputTokens,
		record.CostUSD, record.LatencyMs,
		record.KnowledgeUsed, record.KnowledgeScore, record.Degraded,
		record.Sentiment, record.Language, record.TraceID, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("analytics insert: %w", err)
	}
	return nil
}

// Indexer mirrors records into Elasticsearch so operators can query the
// message stream with free-text filters.
type Indexer struct {
	es    *database.ElasticsearchClient
	index string
}

func NewIndexer(es *database.ElasticsearchClient, index string) *Indexer {
	return &Indexer{es: es, index: index}
}

func (i *Indexer) Index(ctx context.Context, record *Record) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("analytics document marshal: %w", err)
	}

	res, err := i.es.Client.Index(
		i.index,
		bytes.NewReader(doc),
		i.es.Client.Index.WithContext(ctx),
		i.es.Client.Index.WithDocumentID(record.ID),
	)
	if err != nil {
		return fmt.Errorf("analytics index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("analytics index error: %s", res.Status())
	}
	return nil
}
