package contracts

import "time"

// AuditEvent records a state change that third parties may need to verify,
// such as designating an official run.
type AuditEvent struct {
	OrgID      OrgID             `json:"org_id"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	ObjectType string            `json:"object_type"`
	ObjectID   string            `json:"object_id"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Audit actions emitted by the run lifecycle manager.
const (
	ActionMarkRunOfficial   = "MARK_VALUATION_OFFICIAL"
	ActionUnmarkRunOfficial = "UNMARK_VALUATION_OFFICIAL"
)
