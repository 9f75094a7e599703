// internal/common/errors/handler.go
package errors

import "time"

// Handler normalizes arbitrary errors at the pipeline's outer boundary and
// maps them to user-safe reply texts. The raw provider error never reaches
// the citizen.
type Handler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewHandler(logger Logger) *Handler {
	return &Handler{logger: logger}
}

// Normalize ensures we always have a StandardError.
func (h *Handler) Normalize(err error) *StandardError {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// userSafeMessages maps error codes to localized citizen-facing texts.
// Indonesian first since WhatsApp is the dominant channel.
var userSafeMessages = map[ErrorCode]string{
	ErrCodeRateLimited:      "Mohon tunggu sebentar sebelum mengirim pesan berikutnya.",
	ErrCodeBlacklisted:      "Nomor Anda tidak dapat menggunakan layanan ini. Hubungi kantor desa untuk informasi lebih lanjut.",
	ErrCodeModelUnavailable: "Maaf, layanan sedang sibuk. Silakan coba beberapa saat lagi.",
	ErrCodeUpstreamTimeout:  "Maaf, layanan sedang sibuk. Silakan coba beberapa saat lagi.",
}

const defaultUserSafeMessage = "Maaf, terjadi kendala saat memproses pesan Anda. Silakan coba lagi."

// UserSafeMessage returns the reply text the channel adapter may deliver for
// a failure. Never exposes provider details.
func (h *Handler) UserSafeMessage(err error) string {
	stdErr := h.Normalize(err)
	if msg, ok := userSafeMessages[stdErr.Code]; ok {
		return msg
	}
	return defaultUserSafeMessage
}

// LogFailure emits the standardized failure log line with the trace id.
func (h *Handler) LogFailure(traceID string, err error) *StandardError {
	stdErr := h.Normalize(err)
	h.logger.Error("message processing failed", map[string]interface{}{
		"traceId":    traceID,
		"errorCode":  string(stdErr.Code),
		"message":    stdErr.Message,
		"details":    stdErr.Details,
		"retryable":  stdErr.Retryable,
		"category":   GetErrorCategory(stdErr.Code),
		"degradable": IsDegradable(stdErr.Code),
	})
	return stdErr
}
