// Package guardrails rejects critical security events that are missing the
// forensic context needed to investigate them later.
package guardrails

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/upb/security-audit/models"
)

// Event is the view of a security event the guardrails inspect
type Event struct {
	EventType        string
	Category         string
	Action           string
	Resource         string
	ResourceID       string
	ActorUserID      string
	ActorClerkID     string
	ActorDisplayName string
	TenantID         string
	Message          string
	Details          any
}

// EventFromSubmission builds a guardrail view from a raw submission
func EventFromSubmission(sub *models.SecurityEventSubmission) Event {
	return Event{
		EventType:        sub.EventType,
		Category:         sub.Category,
		Action:           sub.Action,
		Resource:         sub.Resource,
		ResourceID:       sub.ResourceID,
		ActorUserID:      sub.ActorUserID,
		ActorClerkID:     sub.ActorClerkID,
		ActorDisplayName: sub.ActorDisplayName,
		TenantID:         sub.TenantID,
		Message:          sub.Message,
		Details:          sub.Details,
	}
}

// EventFromRecord builds a guardrail view from an assembled record
func EventFromRecord(rec *models.SecurityEventRecord) Event {
	return Event{
		EventType:        rec.EventType,
		Category:         rec.Category,
		Action:           rec.Action,
		Resource:         rec.Resource,
		ResourceID:       rec.ResourceID,
		ActorUserID:      rec.ActorUserID,
		ActorClerkID:     rec.ActorClerkID,
		ActorDisplayName: rec.ActorDisplayName,
		TenantID:         rec.TenantID,
		Message:          rec.Message,
		Details:          rec.Details,
	}
}

// Result is the outcome of a guardrail check
type Result struct {
	Valid           bool     `json:"valid"`
	Errors          []string `json:"errors"`
	IsCriticalEvent bool     `json:"is_critical_event"`
}

// Error aggregates every failed rule for one event
type Error struct {
	EventType string
	Reasons   []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("security event guardrails failed for %s: %s", e.EventType, strings.Join(e.Reasons, "; "))
}

// Engine checks events against a rule table keyed by event type
type Engine struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewEngine creates an engine over the given rules
func NewEngine(rules map[string]Rule) *Engine {
	copied := make(map[string]Rule, len(rules))
	for k, v := range rules {
		copied[k] = v
	}
	return &Engine{rules: copied}
}

var defaultEngine = NewEngine(defaultRules)

// Default returns the process-wide engine backed by the built-in table
func Default() *Engine {
	return defaultEngine
}

// Extend merges extra rules into the engine. Rules for known event types are
// tightened (requirements are unioned), never relaxed.
func (e *Engine) Extend(extra map[string]Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for eventType, rule := range extra {
		existing, ok := e.rules[eventType]
		if !ok {
			e.rules[eventType] = rule
			continue
		}
		e.rules[eventType] = Rule{
			RequireActor:             existing.RequireActor || rule.RequireActor,
			RequireTenant:            existing.RequireTenant || rule.RequireTenant,
			RequiredTopLevelFields:   union(existing.RequiredTopLevelFields, rule.RequiredTopLevelFields),
			RequiredDetailPaths:      union(existing.RequiredDetailPaths, rule.RequiredDetailPaths),
			RequiredDetailAnyOfPaths: append(append([][]string{}, existing.RequiredDetailAnyOfPaths...), rule.RequiredDetailAnyOfPaths...),
		}
	}
}

// EventTypes lists the critical event types in sorted order
func (e *Engine) EventTypes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.rules))
	for k := range e.rules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsCritical reports whether eventType is policed by a rule
func (e *Engine) IsCritical(eventType string) bool {
	_, ok := e.rule(eventType)
	return ok
}

// Check evaluates the event against its rule. It never fails; unknown event
// types are always valid.
func (e *Engine) Check(event Event) Result {
	rule, ok := e.rule(event.EventType)
	if !ok {
		return Result{Valid: true, Errors: []string{}, IsCriticalEvent: false}
	}

	errs := []string{}

	if rule.RequireActor && isBlank(event.ActorUserID) && isBlank(event.ActorClerkID) {
		errs = append(errs, "actor is required (actor_user_id or actor_clerk_id)")
	}
	if rule.RequireTenant && isBlank(event.TenantID) {
		errs = append(errs, "tenant_id is required")
	}
	for _, field := range rule.RequiredTopLevelFields {
		value, known := topLevelField(event, field)
		if !known {
			errs = append(errs, fmt.Sprintf("top-level field %q is not a known event field", field))
			continue
		}
		if isBlank(value) {
			errs = append(errs, fmt.Sprintf("top-level field %q is required", field))
		}
	}
	for _, path := range rule.RequiredDetailPaths {
		if _, present := ResolvePath(event.Details, path); !present {
			errs = append(errs, fmt.Sprintf("details.%s is required", path))
		}
	}
	for _, group := range rule.RequiredDetailAnyOfPaths {
		if len(group) == 0 {
			continue
		}
		satisfied := false
		for _, path := range group {
			if _, present := ResolvePath(event.Details, path); present {
				satisfied = true
				break
			}
		}
		if !satisfied {
			errs = append(errs, fmt.Sprintf("one of %s is required", detailList(group)))
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs, IsCriticalEvent: true}
}

// Assert is Check that returns an aggregated *Error when the event is invalid
func (e *Engine) Assert(event Event) error {
	res := e.Check(event)
	if res.Valid {
		return nil
	}
	return &Error{EventType: event.EventType, Reasons: res.Errors}
}

func (e *Engine) rule(eventType string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[strings.TrimSpace(eventType)]
	return r, ok
}

// IsCriticalSecurityEventType reports whether the default engine polices eventType
func IsCriticalSecurityEventType(eventType string) bool {
	return defaultEngine.IsCritical(eventType)
}

// ValidateSecurityEventGuardrails checks event against the default engine
func ValidateSecurityEventGuardrails(event Event) Result {
	return defaultEngine.Check(event)
}

// AssertSecurityEventGuardrails fails with an aggregated *Error when event is invalid
func AssertSecurityEventGuardrails(event Event) error {
	return defaultEngine.Assert(event)
}

// ResolvePath walks a dotted path through nested maps. Missing intermediates
// and blank values report absent.
func ResolvePath(details any, path string) (any, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, false
	}
	cur := details
	for _, seg := range strings.Split(path, ".") {
		next, ok := child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, isPresent(cur)
}

func child(node any, key string) (any, bool) {
	switch m := node.(type) {
	case nil:
		return nil, false
	case map[string]any:
		v, ok := m[key]
		return v, ok
	}
	rv := reflect.ValueOf(node)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
	if !v.IsValid() {
		return nil, false
	}
	return v.Interface(), true
}

func isPresent(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return !rv.IsNil()
	case reflect.String:
		return strings.TrimSpace(rv.String()) != ""
	}
	return true
}

func topLevelField(event Event, name string) (string, bool) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "")) {
	case "eventtype":
		return event.EventType, true
	case "category":
		return event.Category, true
	case "action":
		return event.Action, true
	case "resource":
		return event.Resource, true
	case "resourceid":
		return event.ResourceID, true
	case "actoruserid":
		return event.ActorUserID, true
	case "actorclerkid":
		return event.ActorClerkID, true
	case "actordisplayname":
		return event.ActorDisplayName, true
	case "tenantid":
		return event.TenantID, true
	case "message":
		return event.Message, true
	}
	return "", false
}

func detailList(paths []string) string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = "details." + p
	}
	return strings.Join(out, ", ")
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
