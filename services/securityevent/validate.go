package securityevent

import (
	"strings"

	"github.com/upb/security-audit/models"
	"github.com/upb/security-audit/utils"
)

// Normalize returns a copy of sub with every string field trimmed. The
// caller's submission is left untouched.
func Normalize(sub *models.SecurityEventSubmission) models.SecurityEventSubmission {
	out := *sub
	out.EventType = strings.TrimSpace(out.EventType)
	out.Category = strings.TrimSpace(out.Category)
	out.Action = strings.TrimSpace(out.Action)
	out.Resource = strings.TrimSpace(out.Resource)
	out.ResourceID = strings.TrimSpace(out.ResourceID)
	out.ActorUserID = strings.TrimSpace(out.ActorUserID)
	out.ActorClerkID = strings.TrimSpace(out.ActorClerkID)
	out.ActorDisplayName = strings.TrimSpace(out.ActorDisplayName)
	out.TenantID = strings.TrimSpace(out.TenantID)
	out.Message = strings.TrimSpace(out.Message)

	if len(sub.ReasonCodes) > 0 {
		out.ReasonCodes = make([]string, len(sub.ReasonCodes))
		for i, code := range sub.ReasonCodes {
			out.ReasonCodes[i] = strings.TrimSpace(code)
		}
	}
	if sub.RequestContext != nil {
		rc := *sub.RequestContext
		rc.IPAddress = strings.TrimSpace(rc.IPAddress)
		rc.UserAgent = strings.TrimSpace(rc.UserAgent)
		rc.RequestID = strings.TrimSpace(rc.RequestID)
		rc.Route = strings.TrimSpace(rc.Route)
		rc.HTTPMethod = strings.TrimSpace(rc.HTTPMethod)
		rc.CorrelationID = strings.TrimSpace(rc.CorrelationID)
		rc.SessionID = strings.TrimSpace(rc.SessionID)
		out.RequestContext = &rc
	}
	return out
}

// Validate checks a normalized submission against its schema. Failures are
// returned as *utils.ValidationError keyed by JSON field name.
func Validate(sub *models.SecurityEventSubmission) error {
	if sub == nil {
		return utils.NewFieldError("submission", "submission is required")
	}
	if err := utils.ValidateStruct(sub); err != nil {
		return err
	}
	if sub.OccurredAt != nil && sub.OccurredAt.IsZero() {
		return utils.NewFieldError("occurred_at", "occurred_at must be a valid timestamp")
	}
	for _, f := range textFields(sub) {
		if strings.ContainsRune(f.value, 0) {
			return utils.NewFieldError(f.name, f.name+" must not contain NUL characters")
		}
	}
	return nil
}

type textField struct {
	name  string
	value string
}

// textFields lists the submission strings stored in TEXT columns, in the
// order their errors are reported
func textFields(sub *models.SecurityEventSubmission) []textField {
	fields := []textField{
		{"event_type", sub.EventType},
		{"category", sub.Category},
		{"action", sub.Action},
		{"resource", sub.Resource},
		{"resource_id", sub.ResourceID},
		{"actor_user_id", sub.ActorUserID},
		{"actor_clerk_id", sub.ActorClerkID},
		{"actor_display_name", sub.ActorDisplayName},
		{"tenant_id", sub.TenantID},
		{"message", sub.Message},
	}
	for _, code := range sub.ReasonCodes {
		fields = append(fields, textField{"reason_codes", code})
	}
	if rc := sub.RequestContext; rc != nil {
		fields = append(fields,
			textField{"request_context.ip_address", rc.IPAddress},
			textField{"request_context.user_agent", rc.UserAgent},
			textField{"request_context.request_id", rc.RequestID},
			textField{"request_context.route", rc.Route},
			textField{"request_context.http_method", rc.HTTPMethod},
			textField{"request_context.correlation_id", rc.CorrelationID},
			textField{"request_context.session_id", rc.SessionID},
		)
	}
	return fields
}
