// internal/pipeline/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mygads/govconnect-sub008/internal/analytics"
	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
	"github.com/mygads/govconnect-sub008/internal/common/metrics"
	"github.com/mygads/govconnect-sub008/internal/common/observability"
	"github.com/mygads/govconnect-sub008/internal/models"
	modelinvoke "github.com/mygads/govconnect-sub008/internal/pipeline/model-invoke"
	rateguard "github.com/mygads/govconnect-sub008/internal/pipeline/rate-guard"
	responseformat "github.com/mygads/govconnect-sub008/internal/pipeline/response-format"
	"github.com/mygads/govconnect-sub008/pkg/registry"
)

// Logger interface for dependency injection
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// DefaultTenant is used when the channel adapter supplies no village id.
const DefaultTenant = "default"

// Guard is the admission gate in front of the pipeline.
type Guard interface {
	Admit(ctx context.Context, tenantID, senderID, text string, now time.Time) *rateguard.Decision
}

// TakeoverChecker reports whether a human operator owns the conversation.
type TakeoverChecker interface {
	InTakeover(ctx context.Context, tenantID, senderID string) (bool, error)
	Touch(ctx context.Context, tenantID, senderID string) error
}

// Retriever supplies knowledge context; it degrades instead of failing.
type Retriever interface {
	Retrieve(ctx context.Context, req *models.RetrievalRequest) *models.RetrievalResponse
}

// Generator produces one assistant turn.
type Generator interface {
	Invoke(ctx context.Context, req *modelinvoke.GenerationRequest) (*models.GenerationResult, error)
}

// Formatter shapes the generation for the originating channel.
type Formatter interface {
	Format(result *models.GenerationResult, channel string) (*responseformat.Reply, error)
}

// Recorder accepts analytics records without blocking.
type Recorder interface {
	Enqueue(record *analytics.Record)
}

// Orchestrator drives one inbound message through admission, takeover check,
// retrieval, generation, formatting and analytics. Messages from the same
// sender are processed in arrival order; different senders run in parallel.
type Orchestrator struct {
	guard      Guard
	takeover   TakeoverChecker
	retriever  Retriever
	generator  Generator
	formatter  Formatter
	recorder   Recorder
	registry   *registry.Registry
	errHandler *commonerrors.Handler
	settings   *settingsHolder
	senderLock *keyedMutex
	tracing    *observability.Tracing
	logger     Logger
}

func New(
	guard Guard,
	takeover TakeoverChecker,
	retriever Retriever,
	generator Generator,
	formatter Formatter,
	recorder Recorder,
	reg *registry.Registry,
	settings Settings,
	logger Logger,
) *Orchestrator {
	return &Orchestrator{
		guard:      guard,
		takeover:   takeover,
		retriever:  retriever,
		generator:  generator,
		formatter:  formatter,
		recorder:   recorder,
		registry:   reg,
		errHandler: commonerrors.NewHandler(logger),
		settings:   newSettingsHolder(settings),
		senderLock: newKeyedMutex(256),
		logger:     logger,
	}
}

// SetTracing enables per-stage spans. Safe to leave unset.
func (o *Orchestrator) SetTracing(t *observability.Tracing) {
	o.tracing = t
}

// Settings returns the active runtime settings snapshot.
func (o *Orchestrator) Settings() Settings {
	return *o.settings.load()
}

// UpdateSettings swaps the runtime settings without a restart.
func (o *Orchestrator) UpdateSettings(s Settings) {
	o.settings.store(s)
}

// Process runs one message through the pipeline. It never returns an error:
// every failure is folded into a well-formed result the channel adapter can
// deliver or drop.
func (o *Orchestrator) Process(ctx context.Context, input *models.ProcessMessageInput) *models.ProcessMessageResult {
	start := time.Now()
	traceID := uuid.New().String()
	tenantID := input.VillageID
	if tenantID == "" {
		tenantID = DefaultTenant
	}

	// Evaluation replays skip the per-sender queue: they mutate no state and
	// run in parallel under the evaluator.
	if !input.IsEvaluation {
		unlock := o.senderLock.lock(tenantID + ":" + input.UserID)
		defer unlock()
	}

	result := o.process(ctx, input, tenantID, traceID, start)
	result.Metadata.ProcessingTimeMs = time.Since(start).Milliseconds()
	if result.Metadata.TraceID == "" {
		result.Metadata.TraceID = traceID
	}

	metrics.PipelineDuration.WithLabelValues(input.Channel).Observe(time.Since(start).Seconds())

	if ctx.Err() != nil {
		// The citizen's session ended mid-flight. The work is complete and
		// recorded; the adapter must not deliver the reply.
		o.logger.Info("delivery skipped, session closed", map[string]interface{}{
			"traceId":   result.Metadata.TraceID,
			"tenant_id": tenantID,
			"sender_id": input.UserID,
		})
	}
	return result
}

func (o *Orchestrator) process(ctx context.Context, input *models.ProcessMessageInput, tenantID, traceID string, start time.Time) *models.ProcessMessageResult {
	settings := o.settings.load()

	if !input.IsEvaluation {
		decision := o.guard.Admit(ctx, tenantID, input.UserID, input.Message, time.Now())
		if !decision.Allowed() {
			return o.guardResult(input, tenantID, traceID, decision)
		}

		inTakeover, err := o.takeover.InTakeover(ctx, tenantID, input.UserID)
		if err != nil {
			// Takeover state unknown: keep answering rather than go mute.
			o.logger.Warn("Takeover check failed, assuming assistant-owned", map[string]interface{}{
				"traceId":   traceID,
				"tenant_id": tenantID,
				"sender_id": input.UserID,
				"error":     err.Error(),
			})
		}
		if inTakeover {
			if err := o.takeover.Touch(ctx, tenantID, input.UserID); err != nil {
				o.logger.Warn("Takeover activity refresh failed", map[string]interface{}{
					"traceId": traceID,
					"error":   err.Error(),
				})
			}
			o.record(input, tenantID, &analytics.Record{Status: analytics.StatusTakeover, TraceID: traceID})
			metrics.MessagesProcessed.WithLabelValues(input.Channel, analytics.StatusTakeover).Inc()
			return &models.ProcessMessageResult{
				Success:  true,
				Intent:   "human_takeover",
				Metadata: models.ResultMetadata{TraceID: traceID},
			}
		}
	}

	if reply, intentID, ok := o.cannedReply(input.Message); ok {
		if !input.IsEvaluation {
			o.record(input, tenantID, &analytics.Record{
				Status:  analytics.StatusAnswered,
				Intent:  intentID,
				TraceID: traceID,
			})
			metrics.MessagesProcessed.WithLabelValues(input.Channel, analytics.StatusAnswered).Inc()
		}
		return &models.ProcessMessageResult{
			Success:  true,
			Response: reply,
			Intent:   intentID,
			Metadata: models.ResultMetadata{TraceID: traceID},
		}
	}

	retrievalCtx, retrievalSpan := o.tracing.StartSpan(ctx, "pipeline.retrieve", traceID)
	retrieval := o.retriever.Retrieve(retrievalCtx, &models.RetrievalRequest{
		Query:       input.Message,
		TopK:        settings.TopK,
		MinScore:    settings.MinScore,
		SourceTypes: []string{models.SourceTypeKnowledge, models.SourceTypeDocument},
		TenantID:    tenantID,
		TrackUsage:  !input.IsEvaluation,
	})
	retrievalSpan.End()

	generationCtx, generationSpan := o.tracing.StartSpan(ctx, "pipeline.generate", traceID)
	generation, err := o.generator.Invoke(generationCtx, &modelinvoke.GenerationRequest{
		TenantID:          tenantID,
		Message:           input.Message,
		History:           input.ConversationHistory,
		Knowledge:         retrieval.Results,
		KnowledgeDegraded: retrieval.Degraded,
		ModelPreference:   input.ModelPreference,
		TraceID:           traceID,
	})
	generationSpan.End()
	if err != nil {
		stdErr := o.errHandler.LogFailure(traceID, err)
		if !input.IsEvaluation {
			o.record(input, tenantID, &analytics.Record{
				Status:    analytics.StatusFailed,
				ErrorCode: string(stdErr.Code),
				Degraded:  retrieval.Degraded,
				TraceID:   traceID,
			})
		}
		metrics.MessagesProcessed.WithLabelValues(input.Channel, analytics.StatusFailed).Inc()
		return &models.ProcessMessageResult{
			Success:  false,
			Response: o.errHandler.UserSafeMessage(err),
			Intent:   "error",
			Error:    string(stdErr.Code),
			Metadata: models.ResultMetadata{TraceID: traceID, HasKnowledge: false},
		}
	}

	result := o.formatResult(generation, input.Channel, traceID)
	result.Metadata.HasKnowledge = len(retrieval.Results) > 0
	if len(retrieval.Results) > 0 {
		top := retrieval.TopScore()
		result.Metadata.KnowledgeConfidence = &top
	}

	if !input.IsEvaluation {
		o.record(input, tenantID, &analytics.Record{
			Status:         analytics.StatusAnswered,
			Intent:         generation.Intent,
			Model:          generation.Model,
			InputTokens:    generation.InputTokens,
			OutputTokens:   generation.OutputTokens,
			CostUSD:        generation.CostUSD,
			LatencyMs:      generation.LatencyMs,
			KnowledgeUsed:  len(retrieval.Results) > 0,
			KnowledgeScore: retrieval.TopScore(),
			Degraded:       retrieval.Degraded,
			Sentiment:      generation.Sentiment,
			Language:       generation.Language,
			TraceID:        result.Metadata.TraceID,
		})
	}
	metrics.MessagesProcessed.WithLabelValues(input.Channel, analytics.StatusAnswered).Inc()
	return result
}

// guardResult maps a guard decision to the outbound canned (or silent) reply.
func (o *Orchestrator) guardResult(input *models.ProcessMessageInput, tenantID, traceID string, decision *rateguard.Decision) *models.ProcessMessageResult {
	settings := o.settings.load()
	result := &models.ProcessMessageResult{
		Success:  false,
		Metadata: models.ResultMetadata{TraceID: traceID},
	}

	var status string
	switch decision.Outcome {
	case rateguard.OutcomeBlacklisted:
		status = analytics.StatusBlacklisted
		result.Error = string(commonerrors.ErrCodeBlacklisted)
		if !settings.SilentDrop {
			result.Response = o.registry.SystemReply(registry.ReplyBlacklisted)
		}
	case rateguard.OutcomeSuperseded:
		status = analytics.StatusSuperseded
		result.Error = "SUPERSEDED"
	default:
		status = analytics.StatusRejected
		result.Error = string(commonerrors.ErrCodeRateLimited)
		if decision.Warn && !settings.SilentDrop {
			result.Response = o.registry.SystemReply(registry.ReplyRateLimitWarning)
		}
	}

	o.record(input, tenantID, &analytics.Record{Status: status, ErrorCode: result.Error, TraceID: traceID})
	metrics.MessagesProcessed.WithLabelValues(input.Channel, status).Inc()
	o.logger.Debug("Message stopped at guard", map[string]interface{}{
		"traceId":   traceID,
		"tenant_id": tenantID,
		"sender_id": input.UserID,
		"outcome":   string(decision.Outcome),
		"reason":    decision.Reason,
	})
	return result
}

// formatResult shapes the generation per channel: rich channels carry the
// formatter's bubbles, plain channels get everything collapsed into the
// response text.
func (o *Orchestrator) formatResult(generation *models.GenerationResult, channel, traceID string) *models.ProcessMessageResult {
	if generation.TraceID != "" {
		traceID = generation.TraceID
	}
	metadata := models.ResultMetadata{
		Model:     generation.Model,
		Sentiment: generation.Sentiment,
		Language:  generation.Language,
		TraceID:   traceID,
	}

	reply, err := o.formatter.Format(generation, channel)
	if err != nil {
		// Malformed generation output is degradable: apologize rather than fail.
		o.errHandler.LogFailure(traceID, err)
		return &models.ProcessMessageResult{
			Success:  true,
			Response: o.registry.SystemReply(registry.ReplyModelUnavailable),
			Intent:   defaultIntent(generation.Intent),
			Error:    string(commonerrors.ErrCodeFormatError),
			Metadata: metadata,
		}
	}

	result := &models.ProcessMessageResult{
		Success:  true,
		Intent:   defaultIntent(generation.Intent),
		Fields:   generation.Fields,
		Metadata: metadata,
	}
	if channel == models.ChannelWhatsApp {
		// The adapter delivers the formatter's bubbles one message at a
		// time; the structured fields ride along for analytics.
		result.Bubbles = reply.Bubbles
		result.Response = reply.Bubbles[0].Text
		result.GuidanceText = generation.GuidanceText
		result.Contacts = generation.Contacts
	} else {
		result.Response = reply.Text
	}
	return result
}

// cannedReply short-circuits the model when the whole normalized message is
// one of a canned intent's keywords (greetings and the like).
func (o *Orchestrator) cannedReply(message string) (string, string, bool) {
	normalized := strings.Join(strings.Fields(strings.ToLower(message)), " ")
	if normalized == "" {
		return "", "", false
	}
	for _, intent := range o.registry.List() {
		if intent.CannedReply == "" {
			continue
		}
		for _, keyword := range intent.Keywords {
			if normalized == strings.ToLower(keyword) {
				return intent.CannedReply, intent.ID, true
			}
		}
	}
	return "", "", false
}

func (o *Orchestrator) record(input *models.ProcessMessageInput, tenantID string, record *analytics.Record) {
	if o.recorder == nil {
		return
	}
	record.ID = uuid.New().String()
	record.TenantID = tenantID
	record.SenderID = input.UserID
	record.Channel = input.Channel
	record.CreatedAt = time.Now().UTC()
	o.recorder.Enqueue(record)
}

func defaultIntent(intent string) string {
	if intent == "" {
		return "general"
	}
	return intent
}
