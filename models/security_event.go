package models

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SecurityEventSchemaVersion tags the shape of every persisted record
const SecurityEventSchemaVersion = "securityEvent.v1"

// Severity classifies the impact of a security event
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Outcome records how the audited action ended
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailure    Outcome = "failure"
	OutcomeBlocked    Outcome = "blocked"
	OutcomeChallenged Outcome = "challenged"
)

// RetentionClass gates external retention and erasure jobs
type RetentionClass string

const (
	RetentionStandard         RetentionClass = "standard"
	RetentionSecurityCritical RetentionClass = "security_critical"
	RetentionLegalHold        RetentionClass = "legal_hold"
)

// ActorType identifies who performed the action
type ActorType string

const (
	ActorTypeUser      ActorType = "user"
	ActorTypeSystem    ActorType = "system"
	ActorTypeService   ActorType = "service"
	ActorTypeAnonymous ActorType = "anonymous"
)

// Event categories
const (
	CategoryAuth           = "auth"
	CategoryUserManagement = "user_management"
	CategoryRBAC           = "rbac"
	CategoryRewards        = "rewards"
	CategoryPoints         = "points"
	CategorySettings       = "settings"
	CategoryContent        = "content"
	CategoryWebhook        = "webhook"
	CategoryAudit          = "audit"
)

// Event types with guardrail rules or fixed legacy wrappers
const (
	EventUserCreated               = "user.created"
	EventUserUpdated               = "user.updated"
	EventUserDeleted               = "user.deleted"
	EventRoleCreated               = "rbac.role.created"
	EventRoleUpdated               = "rbac.role.updated"
	EventRoleDeleted               = "rbac.role.deleted"
	EventRoleAssigned              = "rbac.role.assigned"
	EventRoleRevoked               = "rbac.role.revoked"
	EventPermissionGranted         = "rbac.permission.granted"
	EventPermissionRevoked         = "rbac.permission.revoked"
	EventRewardCreated             = "reward.created"
	EventRewardUpdated             = "reward.updated"
	EventRewardRedeemed            = "reward.redeemed"
	EventPointsAwarded             = "points.awarded"
	EventPointsDeducted            = "points.deducted"
	EventSettingsUpdated           = "settings.updated"
	EventWebhookVerificationFailed = "webhook.verification_failed"
	EventQuizCreated               = "quiz.created"
	EventQuizCompleted             = "quiz.completed"
	EventAuthLogin                 = "auth.login"
	EventAuthLogout                = "auth.logout"
)

// RequestContext carries transport metadata captured alongside an event
type RequestContext struct {
	IPAddress     string `json:"ip_address,omitempty" validate:"omitempty,max=64"`
	UserAgent     string `json:"user_agent,omitempty" validate:"omitempty,max=1024"`
	RequestID     string `json:"request_id,omitempty" validate:"omitempty,max=128"`
	Route         string `json:"route,omitempty" validate:"omitempty,max=512"`
	HTTPMethod    string `json:"http_method,omitempty" validate:"omitempty,max=16"`
	CorrelationID string `json:"correlation_id,omitempty" validate:"omitempty,max=128"`
	SessionID     string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// IsEmpty reports whether no request metadata was captured
func (rc RequestContext) IsEmpty() bool {
	return rc == RequestContext{}
}

// Merge returns rc with every empty field filled from fallback.
// Non-empty fields of rc always win.
func (rc RequestContext) Merge(fallback RequestContext) RequestContext {
	out := rc
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&out.IPAddress, fallback.IPAddress)
	fill(&out.UserAgent, fallback.UserAgent)
	fill(&out.RequestID, fallback.RequestID)
	fill(&out.Route, fallback.Route)
	fill(&out.HTTPMethod, fallback.HTTPMethod)
	fill(&out.CorrelationID, fallback.CorrelationID)
	fill(&out.SessionID, fallback.SessionID)
	return out
}

// SecurityEventSubmission is what callers hand to the security event logger.
// It is consumed immediately and never stored.
type SecurityEventSubmission struct {
	EventType  string `json:"event_type" validate:"required,max=120"`
	Category   string `json:"category" validate:"required,max=64"`
	Action     string `json:"action" validate:"required,max=120"`
	Resource   string `json:"resource,omitempty" validate:"omitempty,max=120"`
	ResourceID string `json:"resource_id,omitempty" validate:"omitempty,max=256"`

	ActorUserID      string    `json:"actor_user_id,omitempty" validate:"omitempty,max=128"`
	ActorClerkID     string    `json:"actor_clerk_id,omitempty" validate:"omitempty,max=128"`
	ActorType        ActorType `json:"actor_type,omitempty" validate:"omitempty,oneof=user system service anonymous"`
	ActorDisplayName string    `json:"actor_display_name,omitempty" validate:"omitempty,max=200"`

	TenantID string `json:"tenant_id,omitempty" validate:"omitempty,max=128"`

	Severity    Severity `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Outcome     Outcome  `json:"outcome,omitempty" validate:"omitempty,oneof=success failure blocked challenged"`
	RiskScore   *int     `json:"risk_score,omitempty" validate:"omitempty,min=0,max=100"`
	ReasonCodes []string `json:"reason_codes,omitempty" validate:"omitempty,max=32,dive,required,max=64"`

	Message string `json:"message,omitempty" validate:"omitempty,max=4000"`
	Details any    `json:"details,omitempty" validate:"-"`

	RequestContext *RequestContext `json:"request_context,omitempty"`
	RetentionClass RetentionClass  `json:"retention_class,omitempty" validate:"omitempty,oneof=standard security_critical legal_hold"`
	OccurredAt     *time.Time      `json:"occurred_at,omitempty"`

	// ThrowOnError makes validation, guardrail and persistence failures
	// propagate to the caller instead of being logged and swallowed.
	ThrowOnError bool `json:"throw_on_error,omitempty"`

	// Request is the optional inbound HTTP request the event was raised from.
	Request *http.Request `json:"-" validate:"-"`
}

// SecurityEventRecord is the immutable, persisted form of a security event
type SecurityEventRecord struct {
	EventID       uuid.UUID `json:"event_id" db:"event_id"`
	SchemaVersion string    `json:"schema_version" db:"schema_version"`
	ChainScope    string    `json:"chain_scope" db:"chain_scope"`
	ChainSeq      int64     `json:"chain_seq" db:"chain_seq"`

	EventType  string `json:"event_type" db:"event_type"`
	Category   string `json:"category" db:"category"`
	Action     string `json:"action" db:"action"`
	Resource   string `json:"resource,omitempty" db:"resource"`
	ResourceID string `json:"resource_id,omitempty" db:"resource_id"`

	ActorUserID      string    `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorClerkID     string    `json:"actor_clerk_id,omitempty" db:"actor_clerk_id"`
	ActorType        ActorType `json:"actor_type" db:"actor_type"`
	ActorDisplayName string    `json:"actor_display_name,omitempty" db:"actor_display_name"`
	TenantID         string    `json:"tenant_id,omitempty" db:"tenant_id"`

	Severity    Severity `json:"severity" db:"severity"`
	Outcome     Outcome  `json:"outcome" db:"outcome"`
	RiskScore   *int     `json:"risk_score,omitempty" db:"risk_score"`
	ReasonCodes []string `json:"reason_codes,omitempty" db:"reason_codes"`

	Message        string         `json:"message,omitempty" db:"message"`
	Details        any            `json:"details,omitempty" db:"details"`
	RequestContext RequestContext `json:"request_context" db:"request_context"`
	RetentionClass RetentionClass `json:"retention_class" db:"retention_class"`

	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	IngestedAt time.Time `json:"ingested_at" db:"ingested_at"`

	RecordHash string  `json:"record_hash" db:"record_hash"`
	PrevHash   *string `json:"prev_hash" db:"prev_hash"`
}

// TableName returns the table name for the SecurityEventRecord model
func (SecurityEventRecord) TableName() string {
	return "security_events"
}

// ChainLink is the tail of a hash chain as seen by the next writer
type ChainLink struct {
	RecordHash string
	ChainSeq   int64
}
