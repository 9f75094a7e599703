// internal/pipeline/knowledge-retrieval/retriever.go
package knowledgeretrieval

import (
	"context"
	"time"

	"github.com/mygads/govconnect-sub008/internal/common/metrics"
	"github.com/mygads/govconnect-sub008/internal/models"
)

// Retriever is the pipeline-facing retrieval step: cache in front of the
// knowledge service, degrading to an empty context when the service is
// unreachable so the conversation can still continue.
type Retriever struct {
	client *Client
	cache  *Cache
	logger Logger
}

func NewRetriever(client *Client, cache *Cache, logger Logger) *Retriever {
	return &Retriever{
		client: client,
		cache:  cache,
		logger: logger,
	}
}

// Cache exposes the underlying cache for the admin surface.
func (r *Retriever) Cache() *Cache {
	return r.cache
}

// Retrieve never fails the pipeline: on service outage it returns an empty
// response marked Degraded so downstream steps know no knowledge was used.
func (r *Retriever) Retrieve(ctx context.Context, req *models.RetrievalRequest) *models.RetrievalResponse {
	start := time.Now()

	if cached := r.cache.Get(ctx, req); cached != nil {
		metrics.RetrievalDuration.WithLabelValues("cache_hit").Observe(time.Since(start).Seconds())
		r.logger.Debug("Retrieval served from cache", map[string]interface{}{
			"tenant_id": req.TenantID,
			"results":   len(cached.Results),
		})
		return cached
	}

	resp, err := r.client.Search(ctx, req)
	if err != nil {
		metrics.RetrievalDuration.WithLabelValues("degraded").Observe(time.Since(start).Seconds())
		r.logger.Warn("Knowledge retrieval degraded to empty context", map[string]interface{}{
			"tenant_id": req.TenantID,
			"error":     err.Error(),
		})
		return &models.RetrievalResponse{
			Results:  []models.RetrievalResult{},
			Degraded: true,
		}
	}

	r.cache.Put(ctx, req, resp)
	metrics.RetrievalDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	return resp
}
