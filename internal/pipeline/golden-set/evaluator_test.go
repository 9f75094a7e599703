// internal/pipeline/golden-set/evaluator_test.go
package goldenset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygads/govconnect-sub008/internal/common/config"
	"github.com/mygads/govconnect-sub008/internal/common/logger"
	"github.com/mygads/govconnect-sub008/internal/models"
)

// scriptedPipeline answers by query lookup.
type scriptedPipeline struct {
	mu      sync.Mutex
	answers map[string]*models.ProcessMessageResult
	calls   []*models.ProcessMessageInput
}

func (s *scriptedPipeline) Process(ctx context.Context, input *models.ProcessMessageInput) *models.ProcessMessageResult {
	s.mu.Lock()
	s.calls = append(s.calls, input)
	s.mu.Unlock()
	if result, ok := s.answers[input.Message]; ok {
		return result
	}
	return &models.ProcessMessageResult{Success: true, Intent: "general", Response: "jawaban umum"}
}

type memRunStore struct {
	mu   sync.Mutex
	runs []*models.GoldenSetRun
}

func (m *memRunStore) SaveRun(ctx context.Context, run *models.GoldenSetRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRunStore) ListRuns(ctx context.Context, limit int) ([]*models.GoldenSetRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs, nil
}

func (m *memRunStore) GetRun(ctx context.Context, id string) (*models.GoldenSetRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, nil
}

func writeCorpus(t *testing.T, items []corpusItem) string {
	t.Helper()
	raw, err := json.Marshal(items)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "golden-set.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func evalConfig(corpusPath string) config.EvaluationConfig {
	return config.EvaluationConfig{
		CorpusPath:       corpusPath,
		IntentThreshold:  0.8,
		KeywordThreshold: 0.7,
		OverallThreshold: 0.75,
		Concurrency:      4,
	}
}

func TestRun_IntentAccuracy(t *testing.T) {
	// 10 items, 8 predicted intents match.
	items := make([]corpusItem, 10)
	pipeline := &scriptedPipeline{answers: map[string]*models.ProcessMessageResult{}}
	for i := range items {
		query := fmt.Sprintf("pertanyaan %d", i)
		items[i] = corpusItem{ID: fmt.Sprintf("g-%d", i), Query: query, ExpectedIntent: "expected"}
		intent := "expected"
		if i >= 8 {
			intent = "other"
		}
		pipeline.answers[query] = &models.ProcessMessageResult{Success: true, Intent: intent, Response: "jawaban"}
	}

	store := &memRunStore{}
	evaluator := NewEvaluator(pipeline, store, evalConfig(writeCorpus(t, items)), logger.NewTestLogger(t))

	run, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, run.ItemCount)
	assert.InDelta(t, 0.8, run.IntentAccuracy, 1e-9)
	assert.Len(t, store.runs, 1, "completed run is persisted")
}

func TestRun_KeywordFractionScoring(t *testing.T) {
	items := []corpusItem{{
		ID:               "g-1",
		Query:            "syarat buat ktp",
		ExpectedIntent:   "ktp_requirements",
		ExpectedKeywords: []string{"KK", "surat pengantar", "fotokopi", "biaya"},
	}}
	pipeline := &scriptedPipeline{answers: map[string]*models.ProcessMessageResult{
		"syarat buat ktp": {
			Success:  true,
			Intent:   "ktp_requirements",
			Response: "Bawa KK dan surat pengantar dari RT.",
		},
	}}

	evaluator := NewEvaluator(pipeline, &memRunStore{}, evalConfig(writeCorpus(t, items)), logger.NewTestLogger(t))
	run, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	item := run.Items[0]
	assert.True(t, item.IntentMatch)
	assert.InDelta(t, 0.5, item.KeywordMatch, 1e-9, "2 of 4 keywords present")
	assert.InDelta(t, 0.75, item.Score, 1e-9)
}

func TestRun_MarksEvaluationInputs(t *testing.T) {
	items := []corpusItem{{Query: "q1", ExpectedIntent: "a"}, {Query: "q2", ExpectedIntent: "b"}}
	pipeline := &scriptedPipeline{answers: map[string]*models.ProcessMessageResult{}}

	evaluator := NewEvaluator(pipeline, &memRunStore{}, evalConfig(writeCorpus(t, items)), logger.NewTestLogger(t))
	_, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, pipeline.calls, 2)
	for _, call := range pipeline.calls {
		assert.True(t, call.IsEvaluation, "corpus replays must not touch production state")
	}
}

func TestRun_FailedItemScoresZero(t *testing.T) {
	items := []corpusItem{{Query: "q1", ExpectedIntent: "a"}}
	pipeline := &scriptedPipeline{answers: map[string]*models.ProcessMessageResult{
		"q1": {Success: false, Error: "MODEL_UNAVAILABLE"},
	}}

	evaluator := NewEvaluator(pipeline, &memRunStore{}, evalConfig(writeCorpus(t, items)), logger.NewTestLogger(t))
	run, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	item := run.Items[0]
	assert.Equal(t, "MODEL_UNAVAILABLE", item.Error)
	assert.Zero(t, item.Score)
	assert.False(t, run.Passed)
}

func TestRun_PassedAgainstThresholds(t *testing.T) {
	items := []corpusItem{{Query: "q1", ExpectedIntent: "general", ExpectedKeywords: []string{"jawaban"}}}
	pipeline := &scriptedPipeline{answers: map[string]*models.ProcessMessageResult{}}

	evaluator := NewEvaluator(pipeline, &memRunStore{}, evalConfig(writeCorpus(t, items)), logger.NewTestLogger(t))
	run, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, run.IntentAccuracy)
	assert.Equal(t, 1.0, run.KeywordAccuracy)
	assert.True(t, run.Passed)
}

func TestRun_EmptyCorpusFails(t *testing.T) {
	evaluator := NewEvaluator(&scriptedPipeline{}, &memRunStore{}, evalConfig(writeCorpus(t, nil)), logger.NewTestLogger(t))
	_, err := evaluator.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_SecondConcurrentRunRejected(t *testing.T) {
	items := []corpusItem{{Query: "q1", ExpectedIntent: "a"}}
	started := make(chan struct{})
	release := make(chan struct{})
	pipeline := &blockingPipeline{started: started, release: release}

	evaluator := NewEvaluator(pipeline, &memRunStore{}, evalConfig(writeCorpus(t, items)), logger.NewTestLogger(t))

	done := make(chan error, 1)
	go func() {
		_, err := evaluator.Run(context.Background())
		done <- err
	}()
	<-started

	_, err := evaluator.Run(context.Background())
	assert.Error(t, err, "a run in flight blocks a second one")

	close(release)
	require.NoError(t, <-done)
}

type blockingPipeline struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingPipeline) Process(ctx context.Context, input *models.ProcessMessageInput) *models.ProcessMessageResult {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return &models.ProcessMessageResult{Success: true, Intent: "a", Response: "ok"}
}

func TestKeywordFraction(t *testing.T) {
	assert.Equal(t, 1.0, keywordFraction(nil, "apa saja"))
	assert.Equal(t, 0.0, keywordFraction([]string{"ktp"}, "tidak relevan"))
	assert.Equal(t, 1.0, keywordFraction([]string{"KTP"}, "syarat ktp adalah"))
}
