// internal/notify/notifier.go
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/mygads/govconnect-sub008/internal/common/config"
)

// Logger interface for dependency injection
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// EmailSender sends one email. Satisfied by the SES wrapper.
type EmailSender interface {
	SendEmail(ctx context.Context, from string, to []string, subject, body string) error
}

// SMSSender delivers one SMS. Satisfied by the SNS wrapper.
type SMSSender interface {
	SendSMS(ctx context.Context, number, senderID, message string) error
}

// Notifier alerts village operators about abuse-control events. Every send
// is fire-and-forget: failures are logged and never surface to the pipeline.
type Notifier struct {
	email  EmailSender
	sms    SMSSender
	cfg    config.NotificationConfig
	logger Logger
}

func New(email EmailSender, sms SMSSender, cfg config.NotificationConfig, logger Logger) *Notifier {
	return &Notifier{
		email:  email,
		sms:    sms,
		cfg:    cfg,
		logger: logger,
	}
}

// AutoBlacklisted alerts operators that a sender was blacklisted
// automatically and may need review.
func (n *Notifier) AutoBlacklisted(tenantID, senderID string, violations int64) {
	subject := fmt.Sprintf("[%s] Pengirim diblokir otomatis", tenantID)
	body := fmt.Sprintf(
		"Pengirim %s di tenant %s diblokir otomatis setelah %d pelanggaran batas pesan.\n"+
			"Tinjau melalui dashboard admin bila perlu dibuka kembali.",
		senderID, tenantID, violations,
	)
	n.send(subject, body)
}

// TakeoverStarted tells operators a conversation now expects a human.
func (n *Notifier) TakeoverStarted(tenantID, senderID, operatorID string) {
	subject := fmt.Sprintf("[%s] Percakapan diambil alih", tenantID)
	body := fmt.Sprintf(
		"Percakapan dengan %s di tenant %s diambil alih oleh operator %s. "+
			"Asisten tidak akan membalas sampai pengambilalihan diakhiri.",
		senderID, tenantID, operatorID,
	)
	n.send(subject, body)
}

// GoldenSetFailed alerts operators that an evaluation run fell below its
// pass thresholds.
func (n *Notifier) GoldenSetFailed(runID string, overallAccuracy float64) {
	subject := "Evaluasi golden-set gagal"
	body := fmt.Sprintf(
		"Run %s selesai dengan akurasi keseluruhan %.2f, di bawah ambang kelulusan. "+
			"Periksa riwayat evaluasi sebelum mengubah model atau prompt.",
		runID, overallAccuracy,
	)
	n.send(subject, body)
}

func (n *Notifier) send(subject, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if n.cfg.Email.Enabled && n.email != nil && len(n.cfg.Email.Operators) > 0 {
		n.sendEmail(ctx, subject, body)
	}
	if n.cfg.SMS.Enabled && n.sms != nil && len(n.cfg.SMS.Numbers) > 0 {
		n.sendSMS(ctx, subject)
	}
}

func (n *Notifier) sendEmail(ctx context.Context, subject, body string) {
	if err := n.email.SendEmail(ctx, n.cfg.Email.FromEmail, n.cfg.Email.Operators, subject, body); err != nil {
		n.logger.Warn("Operator email alert failed", map[string]interface{}{
			"subject": subject,
			"error":   err.Error(),
		})
	}
}

func (n *Notifier) sendSMS(ctx context.Context, message string) {
	for _, number := range n.cfg.SMS.Numbers {
		if err := n.sms.SendSMS(ctx, number, n.cfg.SMS.SenderID, message); err != nil {
			n.logger.Warn("Operator SMS alert failed", map[string]interface{}{
				"number": number,
				"error":  err.Error(),
			})
		}
	}
}
