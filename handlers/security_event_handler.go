package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/security-audit/internal/guardrails"
	"github.com/upb/security-audit/internal/hashchain"
	"github.com/upb/security-audit/internal/observability"
	"github.com/upb/security-audit/middleware"
	"github.com/upb/security-audit/models"
	"github.com/upb/security-audit/services"
	"github.com/upb/security-audit/services/audit"
	"github.com/upb/security-audit/utils"
)

// maxBodyBytes caps an ingestion request body
const maxBodyBytes = 1 << 20

// EventRecorder is the synchronous side of the security event pipeline
type EventRecorder interface {
	Log(ctx context.Context, sub *models.SecurityEventSubmission) (*models.SecurityEventRecord, error)
	VerifyChain(ctx context.Context, scope string) (*hashchain.Report, error)
}

// EventQueue accepts submissions for background processing
type EventQueue interface {
	Enqueue(ctx context.Context, sub *models.SecurityEventSubmission) error
}

// LegacyAuditor records events in the old (user, action, resource) shape
type LegacyAuditor interface {
	LogAuditEvent(ctx context.Context, userID, action, resource, resourceID string, details any, opts *audit.Options) error
}

// LegacyAuditRequest is the body of POST /api/v1/audit-events
type LegacyAuditRequest struct {
	UserID     string `json:"user_id" validate:"omitempty,max=128"`
	Action     string `json:"action" validate:"required,max=120"`
	Resource   string `json:"resource" validate:"required,max=120"`
	ResourceID string `json:"resource_id" validate:"omitempty,max=256"`
	Details    any    `json:"details,omitempty" validate:"-"`

	EventType string          `json:"event_type,omitempty" validate:"omitempty,max=120"`
	Category  string          `json:"category,omitempty" validate:"omitempty,max=64"`
	Severity  models.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Outcome   models.Outcome  `json:"outcome,omitempty" validate:"omitempty,oneof=success failure blocked challenged"`
	TenantID  string          `json:"tenant_id,omitempty" validate:"omitempty,max=128"`
	Message   string          `json:"message,omitempty" validate:"omitempty,max=4000"`
}

// SecurityEventHandler exposes the pipeline over HTTP
type SecurityEventHandler struct {
	events    EventRecorder
	queue     EventQueue
	legacy    LegacyAuditor
	guards    *guardrails.Engine
	adminRole string
	logger    *zap.Logger
	log       observability.Logger
}

// NewSecurityEventHandler creates a SecurityEventHandler. queue may be nil,
// in which case async requests are processed synchronously.
func NewSecurityEventHandler(
	events EventRecorder,
	queue EventQueue,
	legacy LegacyAuditor,
	guards *guardrails.Engine,
	adminRole string,
	logger *zap.Logger,
) *SecurityEventHandler {
	if guards == nil {
		guards = guardrails.Default()
	}
	return &SecurityEventHandler{
		events:    events,
		queue:     queue,
		legacy:    legacy,
		guards:    guards,
		adminRole: adminRole,
		logger:    logger,
		log:       observability.NewContextLogger(logger),
	}
}

// HandleCreate handles POST /api/v1/security-events.
// With "Prefer: respond-async" the event is queued and 202 is returned.
func (h *SecurityEventHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var sub models.SecurityEventSubmission
	if err := decodeBody(w, r, &sub); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := h.applyClaims(ctx, &sub); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	sub.Request = r

	if h.queue != nil && prefersAsync(r) {
		sub.ThrowOnError = false
		if err := h.queue.Enqueue(ctx, &sub); err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		w.Header().Set("Preference-Applied", "respond-async")
		_ = utils.WriteAccepted(w, "Security event accepted")
		return
	}

	sub.ThrowOnError = true
	rec, err := h.events.Log(ctx, &sub)
	if err != nil {
		h.log.Warn(ctx, "security event rejected",
			zap.String("event_type", sub.EventType),
			zap.String("error_type", string(services.GetErrorType(err))))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.log.Info(ctx, "security event recorded",
		zap.String("event_id", rec.EventID.String()),
		zap.String("event_type", rec.EventType),
		zap.Int64("chain_seq", rec.ChainSeq))
	_ = utils.WriteCreated(w, rec)
}

// HandleLegacy handles POST /api/v1/audit-events
func (h *SecurityEventHandler) HandleLegacy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LegacyAuditRequest
	if err := decodeBody(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	claims := middleware.GetClaimsFromContext(ctx)
	tenantID, err := h.tenantFor(claims, req.TenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	userID := req.UserID
	clerkID := ""
	if userID == "" && claims != nil {
		userID = claims.UserID
		clerkID = claims.Sub
	}

	opts := &audit.Options{
		EventType:    req.EventType,
		Category:     req.Category,
		Severity:     req.Severity,
		Outcome:      req.Outcome,
		TenantID:     tenantID,
		ActorClerkID: clerkID,
		Message:      req.Message,
		Request:      r,
		ThrowOnError: true,
	}
	if err := h.legacy.LogAuditEvent(ctx, userID, req.Action, req.Resource, req.ResourceID, req.Details, opts); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	eventType := req.EventType
	if eventType == "" {
		eventType = audit.InferEventType(req.Resource, req.Action)
	}
	_ = utils.WriteCreated(w, map[string]string{
		"status":     "recorded",
		"event_type": eventType,
	})
}

// HandleGuardrailCheck handles POST /api/v1/security-events/guardrails/check.
// Nothing is persisted.
func (h *SecurityEventHandler) HandleGuardrailCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var sub models.SecurityEventSubmission
	if err := decodeBody(w, r, &sub); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if strings.TrimSpace(sub.EventType) == "" {
		HandleValidationError(w, utils.NewFieldError("event_type", "event_type is required"), h.logger)
		return
	}
	if err := h.applyClaims(ctx, &sub); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, h.guards.Check(guardrails.EventFromSubmission(&sub)))
}

// HandleVerifyChain handles GET /api/v1/security-events/chain/verify.
// scope defaults to the caller's tenant chain.
func (h *SecurityEventHandler) HandleVerifyChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scope := strings.TrimSpace(r.URL.Query().Get("scope"))
	if scope == "" {
		tenantID := ""
		if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
			tenantID = claims.TenantID
		}
		scope = hashchain.ScopeKey(tenantID)
	}

	report, err := h.events.VerifyChain(ctx, scope)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if !report.Valid {
		h.log.Warn(ctx, "chain verification found failures",
			zap.String("chain_scope", scope),
			zap.Int("failures", len(report.Failures)))
	}
	_ = utils.WriteOK(w, report)
}

// applyClaims fills actor and tenant from the caller's token where the body
// leaves them empty
func (h *SecurityEventHandler) applyClaims(ctx context.Context, sub *models.SecurityEventSubmission) error {
	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		return nil
	}

	tenantID, err := h.tenantFor(claims, sub.TenantID)
	if err != nil {
		return err
	}
	sub.TenantID = tenantID

	if strings.TrimSpace(sub.ActorUserID) == "" && strings.TrimSpace(sub.ActorClerkID) == "" {
		sub.ActorUserID = claims.UserID
		sub.ActorClerkID = claims.Sub
	}
	if sub.ActorDisplayName == "" {
		sub.ActorDisplayName = claims.DisplayName
	}
	return nil
}

// tenantFor picks the effective tenant. Only admins may write into a tenant
// other than the one in their token.
func (h *SecurityEventHandler) tenantFor(claims *middleware.Claims, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if claims == nil || claims.TenantID == "" {
		return requested, nil
	}
	if requested == "" {
		return claims.TenantID, nil
	}
	if requested != claims.TenantID && !claims.HasRole(h.adminRole) {
		return "", services.NewDomainError(services.ErrorTypeForbidden, "tenant_id does not match the token tenant", nil).
			WithDetail("tenant_id", requested)
	}
	return requested, nil
}

// decodeBody reads one JSON document. Numbers inside free-form fields stay
// json.Number so large integers reach the hash chain intact.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return fmt.Errorf("request body is required")
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		default:
			return fmt.Errorf("malformed JSON body: %v", err)
		}
	}
	return nil
}

func prefersAsync(r *http.Request) bool {
	for _, v := range r.Header.Values("Prefer") {
		for _, pref := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(pref), "respond-async") {
				return true
			}
		}
	}
	return false
}
