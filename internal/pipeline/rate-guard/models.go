// internal/pipeline/rate-guard/models.go
package rateguard

// Outcome classifies what the guard decided for a single inbound message.
type Outcome string

const (
	// OutcomeAllow lets the message continue into the pipeline.
	OutcomeAllow Outcome = "allow"
	// OutcomeRejected means the sender exceeded the sliding-window limit.
	OutcomeRejected Outcome = "rejected"
	// OutcomeBlacklisted means the sender is on the tenant blacklist.
	OutcomeBlacklisted Outcome = "blacklisted"
	// OutcomeSuperseded means the message was absorbed by spam suppression
	// and must not produce a reply.
	OutcomeSuperseded Outcome = "superseded"
)

// Decision is the guard verdict for one message.
type Decision struct {
	Outcome Outcome
	Reason  string
	// Warn indicates the caller should send the canned slow-down warning.
	Warn bool
}

func (d *Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}
