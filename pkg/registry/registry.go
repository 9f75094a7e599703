// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Intent describes one recognized question category with the keywords that
// hint at it and an optional canned reply that short-circuits the model.
type Intent struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	CannedReply string   `json:"cannedReply,omitempty"`
}

// registryFile is the on-disk shape.
type registryFile struct {
	Intents       []Intent          `json:"intents"`
	SystemReplies map[string]string `json:"systemReplies,omitempty"`
}

// Well-known system reply keys.
const (
	ReplyRateLimitWarning = "rate_limit_warning"
	ReplyModelUnavailable = "model_unavailable"
	ReplyBlacklisted      = "blacklisted"
)

// defaultSystemReplies backs any key the registry file leaves out.
var defaultSystemReplies = map[string]string{
	ReplyRateLimitWarning: "Mohon tunggu sebentar sebelum mengirim pesan berikutnya ya.",
	ReplyModelUnavailable: "Maaf, asisten sedang mengalami gangguan. Silakan coba beberapa saat lagi atau hubungi kantor desa.",
	ReplyBlacklisted:      "Maaf, nomor Anda tidak dapat menggunakan layanan ini. Silakan hubungi kantor desa.",
}

const registrySchema = `{
  "type": "object",
  "required": ["intents"],
  "properties": {
    "intents": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "keywords": {"type": "array", "items": {"type": "string"}},
          "cannedReply": {"type": "string"}
        }
      }
    },
    "systemReplies": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

// Registry is the loaded, validated intent catalogue. Reads are lock-free
// after Load; Reload swaps the whole catalogue atomically.
type Registry struct {
	mu            sync.RWMutex
	path          string
	intents       map[string]Intent
	order         []string
	systemReplies map[string]string
}

// Load reads and validates the registry file.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the file; on any error the previous catalogue stays active.
func (r *Registry) Reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("registry read: %w", err)
	}

	validation, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(registrySchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("registry schema validation: %w", err)
	}
	if !validation.Valid() {
		details := make([]string, 0, len(validation.Errors()))
		for _, e := range validation.Errors() {
			details = append(details, e.String())
		}
		return fmt.Errorf("registry file invalid: %s", strings.Join(details, "; "))
	}

	var file registryFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("registry unmarshal: %w", err)
	}

	intents := make(map[string]Intent, len(file.Intents))
	order := make([]string, 0, len(file.Intents))
	for _, intent := range file.Intents {
		if _, dup := intents[intent.ID]; dup {
			return fmt.Errorf("registry file invalid: duplicate intent %q", intent.ID)
		}
		intents[intent.ID] = intent
		order = append(order, intent.ID)
	}

	r.mu.Lock()
	r.intents = intents
	r.order = order
	r.systemReplies = file.SystemReplies
	r.mu.Unlock()
	return nil
}

// Get returns the intent by id.
func (r *Registry) Get(id string) (Intent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	intent, ok := r.intents[id]
	return intent, ok
}

// List returns all intents in file order.
func (r *Registry) List() []Intent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Intent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.intents[id])
	}
	return out
}

// CannedReply returns the short-circuit reply for an intent, if any.
func (r *Registry) CannedReply(intentID string) (string, bool) {
	intent, ok := r.Get(intentID)
	if !ok || intent.CannedReply == "" {
		return "", false
	}
	return intent.CannedReply, true
}

// SystemReply returns the operator-configured system reply for a key,
// falling back to the built-in default.
func (r *Registry) SystemReply(key string) string {
	r.mu.RLock()
	reply, ok := r.systemReplies[key]
	r.mu.RUnlock()
	if ok && reply != "" {
		return reply
	}
	return defaultSystemReplies[key]
}
