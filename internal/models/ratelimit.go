package models

import "time"

// RateLimitState mirrors the per-sender counters kept in Redis. Snapshots of
// this struct are read-only views for the admin dashboard.
type RateLimitState struct {
	TenantID       string    `json:"tenantId"`
	SenderID       string    `json:"senderId"`
	WindowCount    int       `json:"windowCount"`
	WindowStart    time.Time `json:"windowStart"`
	Violations     int       `json:"violations"`
	CooldownExpiry time.Time `json:"cooldownExpiry,omitempty"`
}

// BlacklistEntry is an explicit block on a sender. Entries are created by
// admins or auto-promoted after repeated violations; removal is an admin
// action unless a TTL was set at creation.
type BlacklistEntry struct {
	TenantID  string     `json:"tenantId"`
	SenderID  string     `json:"senderId"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// SpamBan records a temporary ban caused by identical-message flooding.
type SpamBan struct {
	TenantID  string    `json:"tenantId"`
	SenderID  string    `json:"senderId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// GuardStats is the operational snapshot exposed to the admin dashboard.
type GuardStats struct {
	Blocked     int64 `json:"blocked"`
	Banned      int64 `json:"banned"`
	Blacklisted int64 `json:"blacklisted"`
}
