// Package audit keeps the old (user, action, resource) audit call shape
// working on top of the structured security event pipeline.
package audit

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/upb/security-audit/models"
	"github.com/upb/security-audit/services/securityevent"
)

// LegacyEventPrefix starts every inferred event type
const LegacyEventPrefix = "audit.legacy."

const maxMessageLength = 4000

// Options overrides what LogAuditEvent would otherwise infer
type Options struct {
	EventType      string
	Category       string
	Severity       models.Severity
	Outcome        models.Outcome
	TenantID       string
	ActorClerkID   string
	Message        string
	RetentionClass models.RetentionClass
	Request        *http.Request
	RequestContext *models.RequestContext
	ThrowOnError   bool
}

// Adapter translates legacy audit calls into security event submissions
type Adapter struct {
	emitter securityevent.Emitter
	logger  *zap.Logger
}

// NewAdapter creates an Adapter emitting through emitter, which is either
// the pipeline itself or a Dispatcher in front of it
func NewAdapter(emitter securityevent.Emitter, logger *zap.Logger) *Adapter {
	return &Adapter{emitter: emitter, logger: logger}
}

// LogAuditEvent records a legacy audit event. A string details value becomes
// the event message.
func (a *Adapter) LogAuditEvent(ctx context.Context, userID, action, resource, resourceID string, details any, opts *Options) error {
	return a.emitter.Emit(ctx, BuildSubmission(userID, action, resource, resourceID, details, opts))
}

// BuildSubmission maps a legacy call onto the structured submission shape
func BuildSubmission(userID, action, resource, resourceID string, details any, opts *Options) *models.SecurityEventSubmission {
	if opts == nil {
		opts = &Options{}
	}

	sub := &models.SecurityEventSubmission{
		EventType:      opts.EventType,
		Category:       opts.Category,
		Action:         action,
		Resource:       resource,
		ResourceID:     resourceID,
		ActorUserID:    userID,
		ActorClerkID:   opts.ActorClerkID,
		TenantID:       opts.TenantID,
		Severity:       opts.Severity,
		Outcome:        opts.Outcome,
		Message:        opts.Message,
		RetentionClass: opts.RetentionClass,
		Request:        opts.Request,
		RequestContext: opts.RequestContext,
		ThrowOnError:   opts.ThrowOnError,
	}

	if sub.EventType == "" {
		sub.EventType = InferEventType(resource, action)
	}
	if sub.Category == "" {
		sub.Category = InferCategory(resource, action)
	}
	if sub.Severity == "" {
		sub.Severity = InferSeverity(action)
	}

	if s, ok := details.(string); ok {
		if sub.Message == "" {
			sub.Message = truncate(s, maxMessageLength)
		}
	} else {
		sub.Details = details
	}
	return sub
}

var (
	invalidChars = regexp.MustCompile(`[^a-z0-9._-]`)
	underscores  = regexp.MustCompile(`_+`)
)

// Sanitize turns free text into an event type segment
func Sanitize(s string) string {
	out := invalidChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
	out = strings.Trim(underscores.ReplaceAllString(out, "_"), "_")
	if out == "" {
		return "unknown"
	}
	return out
}

// InferEventType builds audit.legacy.<resource>.<action>
func InferEventType(resource, action string) string {
	return LegacyEventPrefix + Sanitize(resource) + "." + Sanitize(action)
}

// categoryKeywords is checked in order; the first keyword found in the
// resource or action picks the category.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{models.CategoryAuth, []string{"auth", "login", "logout", "signin", "signout", "password", "mfa"}},
	{models.CategoryRBAC, []string{"role", "permission", "rbac"}},
	{models.CategoryRewards, []string{"reward", "redeem"}},
	{models.CategoryPoints, []string{"point"}},
	{models.CategorySettings, []string{"setting", "config"}},
	{models.CategoryUserManagement, []string{"user", "profile", "account"}},
	{models.CategoryWebhook, []string{"webhook"}},
	{models.CategoryContent, []string{"quiz", "content", "question"}},
}

// InferCategory derives the event category from resource and action words
func InferCategory(resource, action string) string {
	haystack := strings.ToLower(resource + " " + action)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(haystack, kw) {
				return entry.category
			}
		}
	}
	return models.CategoryAudit
}

// InferSeverity maps delete and error actions to high, updates to medium
func InferSeverity(action string) models.Severity {
	a := strings.ToLower(action)
	switch {
	case strings.Contains(a, "delete"), strings.Contains(a, "error"):
		return models.SeverityHigh
	case strings.Contains(a, "update"):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
