// internal/pipeline/golden-set/evaluator.go
package goldenset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mygads/govconnect-sub008/internal/common/config"
	"github.com/mygads/govconnect-sub008/internal/common/metrics"
	"github.com/mygads/govconnect-sub008/internal/models"
)

// Logger interface for dependency injection
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Pipeline is the slice of the orchestrator the evaluator drives.
type Pipeline interface {
	Process(ctx context.Context, input *models.ProcessMessageInput) *models.ProcessMessageResult
}

// Alerter is pinged when a run falls below its pass thresholds.
type Alerter interface {
	GoldenSetFailed(runID string, overallAccuracy float64)
}

// corpusItem is the on-disk corpus shape.
type corpusItem struct {
	ID               string   `json:"id"`
	Query            string   `json:"query"`
	ExpectedIntent   string   `json:"expectedIntent"`
	ExpectedKeywords []string `json:"expectedKeywords,omitempty"`
}

// Evaluator replays the golden-set corpus through the pipeline and scores
// the answers. Runs are persisted append-only for regression tracking.
type Evaluator struct {
	pipeline Pipeline
	store    models.GoldenSetStore
	cfg      config.EvaluationConfig
	alerter  Alerter
	logger   Logger

	mu      sync.Mutex
	running bool
}

func NewEvaluator(pipeline Pipeline, store models.GoldenSetStore, cfg config.EvaluationConfig, logger Logger) *Evaluator {
	return &Evaluator{
		pipeline: pipeline,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetAlerter registers the operator alert hook for failed runs.
func (e *Evaluator) SetAlerter(a Alerter) {
	e.alerter = a
}

// Run evaluates the whole corpus. Only one run may be in flight at a time.
func (e *Evaluator) Run(ctx context.Context) (*models.GoldenSetRun, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("golden-set run already in progress")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	corpus, err := loadCorpus(e.cfg.CorpusPath)
	if err != nil {
		return nil, err
	}
	if len(corpus) == 0 {
		return nil, fmt.Errorf("golden-set corpus %s is empty", e.cfg.CorpusPath)
	}

	run := &models.GoldenSetRun{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Items:     make([]models.GoldenSetItem, len(corpus)),
	}

	concurrency := e.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range corpus {
		i := i
		g.Go(func() error {
			run.Items[i] = e.evaluateItem(gctx, corpus[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.aggregate(run)
	run.CompletedAt = time.Now().UTC()

	metrics.GoldenSetAccuracy.WithLabelValues("intent").Set(run.IntentAccuracy)
	metrics.GoldenSetAccuracy.WithLabelValues("keyword").Set(run.KeywordAccuracy)
	metrics.GoldenSetAccuracy.WithLabelValues("overall").Set(run.OverallAccuracy)

	if err := e.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("golden-set run save: %w", err)
	}

	if !run.Passed && e.alerter != nil {
		go e.alerter.GoldenSetFailed(run.ID, run.OverallAccuracy)
	}

	e.logger.Info("Golden-set run completed", map[string]interface{}{
		"run_id":           run.ID,
		"items":            run.ItemCount,
		"intent_accuracy":  run.IntentAccuracy,
		"keyword_accuracy": run.KeywordAccuracy,
		"overall_accuracy": run.OverallAccuracy,
		"passed":           run.Passed,
	})
	return run, nil
}

func (e *Evaluator) evaluateItem(ctx context.Context, item corpusItem) models.GoldenSetItem {
	start := time.Now()
	result := e.pipeline.Process(ctx, &models.ProcessMessageInput{
		UserID:       "golden-set",
		Message:      item.Query,
		Channel:      models.ChannelWebchat,
		IsEvaluation: true,
	})

	scored := models.GoldenSetItem{
		ID:               item.ID,
		Query:            item.Query,
		ExpectedIntent:   item.ExpectedIntent,
		ExpectedKeywords: item.ExpectedKeywords,
		PredictedIntent:  result.Intent,
		Response:         result.Response,
		LatencyMs:        time.Since(start).Milliseconds(),
	}
	if !result.Success {
		scored.Error = result.Error
		return scored
	}

	scored.IntentMatch = strings.EqualFold(item.ExpectedIntent, result.Intent)
	scored.KeywordMatch = keywordFraction(item.ExpectedKeywords, result.Response)
	scored.Score = itemScore(scored.IntentMatch, scored.KeywordMatch)
	return scored
}

func (e *Evaluator) aggregate(run *models.GoldenSetRun) {
	run.ItemCount = len(run.Items)
	if run.ItemCount == 0 {
		return
	}

	var intentSum, keywordSum, scoreSum float64
	for _, item := range run.Items {
		if item.IntentMatch {
			intentSum++
		}
		keywordSum += item.KeywordMatch
		scoreSum += item.Score
	}

	n := float64(run.ItemCount)
	run.IntentAccuracy = intentSum / n
	run.KeywordAccuracy = keywordSum / n
	run.OverallAccuracy = scoreSum / n
	run.Passed = run.IntentAccuracy >= e.cfg.IntentThreshold &&
		run.KeywordAccuracy >= e.cfg.KeywordThreshold &&
		run.OverallAccuracy >= e.cfg.OverallThreshold
}

// keywordFraction reports which share of the expected keywords appear in the
// response, case-insensitively. No expected keywords counts as a full match.
func keywordFraction(expected []string, response string) float64 {
	if len(expected) == 0 {
		return 1
	}
	lower := strings.ToLower(response)
	var found int
	for _, keyword := range expected {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			found++
		}
	}
	return float64(found) / float64(len(expected))
}

// itemScore weighs intent and keyword agreement equally.
func itemScore(intentMatch bool, keywordMatch float64) float64 {
	score := 0.5 * keywordMatch
	if intentMatch {
		score += 0.5
	}
	return score
}

func loadCorpus(path string) ([]corpusItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("golden-set corpus read: %w", err)
	}

	var items []corpusItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("golden-set corpus unmarshal: %w", err)
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = fmt.Sprintf("item-%d", i+1)
		}
	}
	return items, nil
}
