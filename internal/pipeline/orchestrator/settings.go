// internal/pipeline/orchestrator/settings.go
package orchestrator

import "sync/atomic"

// Settings is the runtime-mutable part of the pipeline configuration.
// Snapshots are immutable; updates swap the whole snapshot atomically so
// in-flight messages keep a consistent view.
type Settings struct {
	// SilentDrop suppresses the canned warning on guard rejections.
	SilentDrop bool

	// TopK and MinScore shape retrieval requests.
	TopK     int
	MinScore float64
}

type settingsHolder struct {
	p atomic.Pointer[Settings]
}

func newSettingsHolder(initial Settings) *settingsHolder {
	h := &settingsHolder{}
	h.p.Store(&initial)
	return h
}

func (h *settingsHolder) load() *Settings {
	return h.p.Load()
}

func (h *settingsHolder) store(s Settings) {
	h.p.Store(&s)
}
