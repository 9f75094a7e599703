// internal/pipeline/takeover/tracker.go
package takeover

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
	"github.com/mygads/govconnect-sub008/internal/common/metrics"
	"github.com/mygads/govconnect-sub008/internal/models"
)

// Logger interface for dependency injection
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Tracker records which conversations a human operator has taken over.
// Claims are held in Redis with a dormancy TTL so an operator who walks
// away does not strand the citizen without replies forever.
type Tracker struct {
	rdb        redis.Cmdable
	logger     Logger
	dormantTTL time.Duration
}

func NewTracker(rdb redis.Cmdable, dormantTTL time.Duration, logger Logger) *Tracker {
	return &Tracker{
		rdb:        rdb,
		logger:     logger,
		dormantTTL: dormantTTL,
	}
}

// Start claims a conversation for an operator. Exactly one claim can exist
// per conversation: a second Start loses with ErrAlreadyInTakeover.
func (t *Tracker) Start(ctx context.Context, tenantID, senderID, operatorID, reason string) error {
	conv := models.Conversation{
		TenantID:     tenantID,
		SenderID:     senderID,
		Mode:         models.ModeTakeover,
		OperatorID:   operatorID,
		Reason:       reason,
		LastActivity: time.Now().UTC(),
	}
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("takeover claim marshal: %w", err)
	}

	ok, err := t.rdb.SetNX(ctx, t.key(tenantID, senderID), raw, t.dormantTTL).Result()
	if err != nil {
		return commonerrors.NewStateStoreFailedError("takeover claim", err)
	}
	if !ok {
		return commonerrors.ErrAlreadyInTakeover
	}

	metrics.TakeoverActive.Inc()
	t.logger.Info("Conversation taken over by operator", map[string]interface{}{
		"tenant_id":   tenantID,
		"sender_id":   senderID,
		"operator_id": operatorID,
	})
	return nil
}

// End releases a conversation back to the assistant.
func (t *Tracker) End(ctx context.Context, tenantID, senderID string) error {
	removed, err := t.rdb.Del(ctx, t.key(tenantID, senderID)).Result()
	if err != nil {
		return commonerrors.NewStateStoreFailedError("takeover release", err)
	}
	if removed == 0 {
		return commonerrors.ErrNotInTakeover
	}

	metrics.TakeoverActive.Dec()
	t.logger.Info("Conversation returned to assistant", map[string]interface{}{
		"tenant_id": tenantID,
		"sender_id": senderID,
	})
	return nil
}

// Status reports the current claim for a conversation, or nil when the
// assistant owns it.
func (t *Tracker) Status(ctx context.Context, tenantID, senderID string) (*models.Conversation, error) {
	raw, err := t.rdb.Get(ctx, t.key(tenantID, senderID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, commonerrors.NewStateStoreFailedError("takeover lookup", err)
	}

	var conv models.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, fmt.Errorf("takeover claim unmarshal: %w", err)
	}
	return &conv, nil
}

// InTakeover is the hot-path check used by the pipeline. A store failure
// is reported so the orchestrator can decide how to degrade.
func (t *Tracker) InTakeover(ctx context.Context, tenantID, senderID string) (bool, error) {
	n, err := t.rdb.Exists(ctx, t.key(tenantID, senderID)).Result()
	if err != nil {
		return false, commonerrors.NewStateStoreFailedError("takeover check", err)
	}
	return n > 0, nil
}

// Touch refreshes the dormancy timer while the operator stays active.
func (t *Tracker) Touch(ctx context.Context, tenantID, senderID string) error {
	raw, err := t.rdb.Get(ctx, t.key(tenantID, senderID)).Result()
	if err == redis.Nil {
		return commonerrors.ErrNotInTakeover
	}
	if err != nil {
		return commonerrors.NewStateStoreFailedError("takeover touch", err)
	}

	var conv models.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return fmt.Errorf("takeover claim unmarshal: %w", err)
	}
	conv.LastActivity = time.Now().UTC()

	updated, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("takeover claim marshal: %w", err)
	}
	if err := t.rdb.Set(ctx, t.key(tenantID, senderID), updated, t.dormantTTL).Err(); err != nil {
		return commonerrors.NewStateStoreFailedError("takeover touch", err)
	}
	return nil
}

func (t *Tracker) key(tenantID, senderID string) string {
	return fmt.Sprintf("takeover:%s:%s", tenantID, senderID)
}
