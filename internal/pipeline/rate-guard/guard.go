// internal/pipeline/rate-guard/guard.go
package rateguard

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mygads/govconnect-sub008/internal/common/metrics"
	"github.com/mygads/govconnect-sub008/internal/models"
)

// Logger interface for dependency injection
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Notifier receives fire-and-forget abuse alerts.
type Notifier interface {
	AutoBlacklisted(tenantID, senderID string, violations int64)
}

// Guard enforces per-sender rate limits, spam suppression and the tenant
// blacklist in front of the pipeline. All state lives in Redis so multiple
// orchestrator instances share one view of a sender.
type Guard struct {
	rdb      redis.Cmdable
	config   atomic.Pointer[Config]
	logger   Logger
	notifier Notifier

	blocked     atomic.Int64
	banned      atomic.Int64
	blacklisted atomic.Int64
}

func NewGuard(rdb redis.Cmdable, cfg *Config, logger Logger) *Guard {
	g := &Guard{
		rdb:    rdb,
		logger: logger,
	}
	g.config.Store(cfg)
	return g
}

// SetNotifier attaches the operator alert hook.
func (g *Guard) SetNotifier(n Notifier) {
	g.notifier = n
}

// Config returns the active guard configuration.
func (g *Guard) Config() Config {
	return *g.config.Load()
}

// SetConfig swaps the guard configuration at runtime. In-flight admissions
// keep the snapshot they loaded.
func (g *Guard) SetConfig(cfg *Config) {
	g.config.Store(cfg)
}

// Admit decides whether a message may enter the pipeline. Redis failures
// never block a citizen: on store errors the guard logs and admits.
func (g *Guard) Admit(ctx context.Context, tenantID, senderID, text string, now time.Time) *Decision {
	entry, err := g.blacklistEntry(ctx, tenantID, senderID, now)
	if err != nil {
		return g.failOpen(tenantID, senderID, err)
	}
	if entry != nil {
		g.blocked.Add(1)
		metrics.GuardRejections.WithLabelValues("blacklisted").Inc()
		return &Decision{Outcome: OutcomeBlacklisted, Reason: entry.Reason}
	}

	banned, err := g.isBanned(ctx, tenantID, senderID)
	if err != nil {
		return g.failOpen(tenantID, senderID, err)
	}
	if banned {
		metrics.GuardRejections.WithLabelValues("spam_ban").Inc()
		return &Decision{Outcome: OutcomeSuperseded, Reason: "sender is in a spam cooldown"}
	}

	superseded, err := g.checkSpam(ctx, tenantID, senderID, text, now)
	if err != nil {
		return g.failOpen(tenantID, senderID, err)
	}
	if superseded {
		metrics.GuardRejections.WithLabelValues("spam_repeat").Inc()
		return &Decision{Outcome: OutcomeSuperseded, Reason: "identical message repeated too often"}
	}

	// A live cooldown rejects before the window is re-counted. The violation
	// is still recorded so a sender hammering through a cooldown keeps
	// building toward the auto-blacklist.
	cooling, err := g.inCooldown(ctx, tenantID, senderID, now)
	if err != nil {
		return g.failOpen(tenantID, senderID, err)
	}
	if cooling {
		return g.rejectViolation(ctx, tenantID, senderID, now, "cooldown active")
	}

	over, err := g.checkWindow(ctx, tenantID, senderID, now)
	if err != nil {
		return g.failOpen(tenantID, senderID, err)
	}
	if over {
		return g.rejectViolation(ctx, tenantID, senderID, now, "rate limit exceeded")
	}

	// Allowed message resets the consecutive violation counter.
	if err := g.rdb.Del(ctx, g.violationsKey(tenantID, senderID)).Err(); err != nil {
		g.logger.Warn("Failed to reset violation counter", map[string]interface{}{
			"tenant_id": tenantID,
			"sender_id": senderID,
			"error":     err.Error(),
		})
	}

	return &Decision{Outcome: OutcomeAllow}
}

// rejectViolation records the violation and maps it to a rejected or
// blacklisted decision.
func (g *Guard) rejectViolation(ctx context.Context, tenantID, senderID string, now time.Time, reason string) *Decision {
	warn, blacklisted, err := g.recordViolation(ctx, tenantID, senderID, now)
	if err != nil {
		return g.failOpen(tenantID, senderID, err)
	}
	g.blocked.Add(1)
	if blacklisted {
		metrics.GuardRejections.WithLabelValues("blacklisted").Inc()
		return &Decision{Outcome: OutcomeBlacklisted, Reason: "automatic: repeated rate limit violations"}
	}
	metrics.GuardRejections.WithLabelValues("rate_exceeded").Inc()
	return &Decision{Outcome: OutcomeRejected, Reason: reason, Warn: warn}
}

func (g *Guard) failOpen(tenantID, senderID string, err error) *Decision {
	g.logger.Warn("Guard state store unavailable, admitting message", map[string]interface{}{
		"tenant_id": tenantID,
		"sender_id": senderID,
		"error":     err.Error(),
	})
	metrics.GuardRejections.WithLabelValues("fail_open").Inc()
	return &Decision{Outcome: OutcomeAllow, Reason: "state store unavailable"}
}

// checkWindow records the message in the per-sender sliding window and
// reports whether the window limit is exceeded.
func (g *Guard) checkWindow(ctx context.Context, tenantID, senderID string, now time.Time) (bool, error) {
	cfg := g.config.Load()
	key := g.windowKey(tenantID, senderID)
	windowStart := now.Add(-cfg.Window).UnixMilli()

	pipe := g.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	count := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("sliding window update: %w", err)
	}

	return count.Val() > int64(cfg.MaxPerWindow), nil
}

// recordViolation bumps the consecutive violation counter, extends the
// cooldown (never shortens it) and auto-blacklists past the threshold.
// The canned warning is sent only on the first violation of a streak.
func (g *Guard) recordViolation(ctx context.Context, tenantID, senderID string, now time.Time) (warn bool, blacklisted bool, err error) {
	cfg := g.config.Load()
	key := g.violationsKey(tenantID, senderID)
	violations, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, false, fmt.Errorf("violation counter: %w", err)
	}
	// Counter lives as long as the longest cooldown so a streak can build up.
	if err := g.rdb.PExpire(ctx, key, cfg.Cooldown*2).Err(); err != nil {
		return false, false, fmt.Errorf("violation counter expiry: %w", err)
	}

	if err := g.extendCooldown(ctx, tenantID, senderID, now); err != nil {
		return false, false, err
	}

	if cfg.AutoBlacklistViolations > 0 && violations >= int64(cfg.AutoBlacklistViolations) {
		if err := g.AddToBlacklist(ctx, tenantID, senderID, "automatic: repeated rate limit violations", nil); err != nil {
			return false, false, err
		}
		g.logger.Warn("Sender auto-blacklisted after repeated violations", map[string]interface{}{
			"tenant_id":  tenantID,
			"sender_id":  senderID,
			"violations": violations,
		})
		if g.notifier != nil {
			go g.notifier.AutoBlacklisted(tenantID, senderID, violations)
		}
		return false, true, nil
	}

	return violations == 1, false, nil
}

// inCooldown reports whether the sender's cooldown expiry is still ahead of
// the message clock. The expiry is stored as the key value so it follows the
// caller's notion of time, with the TTL as a cleanup backstop.
func (g *Guard) inCooldown(ctx context.Context, tenantID, senderID string, now time.Time) (bool, error) {
	expiry, err := g.cooldownExpiry(ctx, tenantID, senderID)
	if err != nil {
		return false, err
	}
	return now.UnixMilli() < expiry, nil
}

func (g *Guard) cooldownExpiry(ctx context.Context, tenantID, senderID string) (int64, error) {
	val, err := g.rdb.Get(ctx, g.cooldownKey(tenantID, senderID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cooldown lookup: %w", err)
	}
	expiry, perr := strconv.ParseInt(val, 10, 64)
	if perr != nil {
		return 0, nil
	}
	return expiry, nil
}

// extendCooldown pushes the cooldown expiry out to now+Cooldown. An active
// cooldown is only ever extended, never shortened.
func (g *Guard) extendCooldown(ctx context.Context, tenantID, senderID string, now time.Time) error {
	cfg := g.config.Load()
	current, err := g.cooldownExpiry(ctx, tenantID, senderID)
	if err != nil {
		return err
	}
	next := now.Add(cfg.Cooldown).UnixMilli()
	if current >= next {
		return nil
	}
	if err := g.rdb.Set(ctx, g.cooldownKey(tenantID, senderID), strconv.FormatInt(next, 10), cfg.Cooldown).Err(); err != nil {
		return fmt.Errorf("cooldown set: %w", err)
	}
	return nil
}

// checkSpam fingerprints the normalized text and suppresses the sender once
// the same message repeats past the configured threshold.
func (g *Guard) checkSpam(ctx context.Context, tenantID, senderID, text string, now time.Time) (bool, error) {
	cfg := g.config.Load()
	if cfg.MaxIdentical <= 0 {
		return false, nil
	}

	key := g.spamKey(tenantID, senderID, fingerprint(text))
	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("spam counter: %w", err)
	}
	if err := g.rdb.PExpire(ctx, key, cfg.SpamWindow).Err(); err != nil {
		return false, fmt.Errorf("spam counter expiry: %w", err)
	}

	if count <= int64(cfg.MaxIdentical) {
		return false, nil
	}

	if err := g.rdb.Set(ctx, g.banKey(tenantID, senderID), now.Format(time.RFC3339), cfg.BanDuration).Err(); err != nil {
		return false, fmt.Errorf("spam ban set: %w", err)
	}
	g.banned.Add(1)
	g.logger.Warn("Sender temporarily banned for identical message spam", map[string]interface{}{
		"tenant_id": tenantID,
		"sender_id": senderID,
		"repeats":   count,
	})
	return true, nil
}

func (g *Guard) isBanned(ctx context.Context, tenantID, senderID string) (bool, error) {
	n, err := g.rdb.Exists(ctx, g.banKey(tenantID, senderID)).Result()
	if err != nil {
		return false, fmt.Errorf("spam ban lookup: %w", err)
	}
	return n > 0, nil
}

// AddToBlacklist puts a sender on the tenant blacklist. A nil ttl means the
// entry never expires.
func (g *Guard) AddToBlacklist(ctx context.Context, tenantID, senderID, reason string, ttl *time.Duration) error {
	entry := models.BlacklistEntry{
		TenantID:  tenantID,
		SenderID:  senderID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if ttl != nil {
		expires := entry.CreatedAt.Add(*ttl)
		entry.ExpiresAt = &expires
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("blacklist entry marshal: %w", err)
	}
	if err := g.rdb.HSet(ctx, g.blacklistKey(tenantID), senderID, raw).Err(); err != nil {
		return fmt.Errorf("blacklist write: %w", err)
	}

	g.blacklisted.Add(1)
	metrics.BlacklistedSenders.Inc()
	return nil
}

// RemoveFromBlacklist deletes a sender from the tenant blacklist.
func (g *Guard) RemoveFromBlacklist(ctx context.Context, tenantID, senderID string) error {
	removed, err := g.rdb.HDel(ctx, g.blacklistKey(tenantID), senderID).Result()
	if err != nil {
		return fmt.Errorf("blacklist delete: %w", err)
	}
	if removed > 0 {
		metrics.BlacklistedSenders.Dec()
	}
	return nil
}

// ListBlacklist returns the active blacklist entries for a tenant. Expired
// entries are pruned as a side effect.
func (g *Guard) ListBlacklist(ctx context.Context, tenantID string) ([]models.BlacklistEntry, error) {
	raw, err := g.rdb.HGetAll(ctx, g.blacklistKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("blacklist read: %w", err)
	}

	now := time.Now().UTC()
	entries := make([]models.BlacklistEntry, 0, len(raw))
	for sender, value := range raw {
		var entry models.BlacklistEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			g.logger.Warn("Dropping malformed blacklist entry", map[string]interface{}{
				"tenant_id": tenantID,
				"sender_id": sender,
			})
			continue
		}
		if entry.ExpiresAt != nil && entry.ExpiresAt.Before(now) {
			if err := g.RemoveFromBlacklist(ctx, tenantID, sender); err != nil {
				return nil, err
			}
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (g *Guard) blacklistEntry(ctx context.Context, tenantID, senderID string, now time.Time) (*models.BlacklistEntry, error) {
	value, err := g.rdb.HGet(ctx, g.blacklistKey(tenantID), senderID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blacklist lookup: %w", err)
	}

	var entry models.BlacklistEntry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return nil, fmt.Errorf("blacklist entry unmarshal: %w", err)
	}
	if entry.ExpiresAt != nil && entry.ExpiresAt.Before(now) {
		if err := g.RemoveFromBlacklist(ctx, tenantID, senderID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &entry, nil
}

// ListBans returns the senders currently under a spam ban for one tenant.
// Expiry comes from the key TTL, so lapsed bans drop out on their own.
func (g *Guard) ListBans(ctx context.Context, tenantID string) ([]models.SpamBan, error) {
	pattern := fmt.Sprintf("guard:ban:%s:*", tenantID)
	prefix := fmt.Sprintf("guard:ban:%s:", tenantID)

	bans := make([]models.SpamBan, 0)
	var cursor uint64
	for {
		keys, next, err := g.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("spam ban scan: %w", err)
		}
		for _, key := range keys {
			ttl, err := g.rdb.TTL(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("spam ban ttl: %w", err)
			}
			if ttl <= 0 {
				continue
			}
			bans = append(bans, models.SpamBan{
				TenantID:  tenantID,
				SenderID:  strings.TrimPrefix(key, prefix),
				ExpiresAt: time.Now().UTC().Add(ttl),
			})
		}
		cursor = next
		if cursor == 0 {
			return bans, nil
		}
	}
}

// RemoveBan lifts a spam ban early.
func (g *Guard) RemoveBan(ctx context.Context, tenantID, senderID string) error {
	if err := g.rdb.Del(ctx, g.banKey(tenantID, senderID)).Err(); err != nil {
		return fmt.Errorf("spam ban delete: %w", err)
	}
	return nil
}

// Stats reports cumulative guard activity since startup.
func (g *Guard) Stats() models.GuardStats {
	return models.GuardStats{
		Blocked:     g.blocked.Load(),
		Banned:      g.banned.Load(),
		Blacklisted: g.blacklisted.Load(),
	}
}

func (g *Guard) windowKey(tenantID, senderID string) string {
	return fmt.Sprintf("guard:win:%s:%s", tenantID, senderID)
}

func (g *Guard) violationsKey(tenantID, senderID string) string {
	return fmt.Sprintf("guard:viol:%s:%s", tenantID, senderID)
}

func (g *Guard) cooldownKey(tenantID, senderID string) string {
	return fmt.Sprintf("guard:cd:%s:%s", tenantID, senderID)
}

func (g *Guard) spamKey(tenantID, senderID, hash string) string {
	return fmt.Sprintf("guard:spam:%s:%s:%s", tenantID, senderID, hash)
}

func (g *Guard) banKey(tenantID, senderID string) string {
	return fmt.Sprintf("guard:ban:%s:%s", tenantID, senderID)
}

func (g *Guard) blacklistKey(tenantID string) string {
	return fmt.Sprintf("guard:bl:%s", tenantID)
}

// fingerprint hashes the lowercased, whitespace-collapsed text so trivial
// variations of the same spam message map to one counter.
func fingerprint(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
