// Package securityevent turns security event submissions into redacted,
// guardrail-checked, hash-chained records and appends them to storage.
package securityevent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/security-audit/internal/guardrails"
	"github.com/upb/security-audit/internal/hashchain"
	"github.com/upb/security-audit/internal/redact"
	"github.com/upb/security-audit/internal/reqctx"
	"github.com/upb/security-audit/models"
	"github.com/upb/security-audit/repositories"
	"github.com/upb/security-audit/services"
	"github.com/upb/security-audit/services/actor"
)

// Pipeline stages reported in operational logs
const (
	StageValidate  = "validate"
	StageGuardrail = "guardrail"
	StageSerialize = "serialize"
	StageChainLock = "chain_lock"
	StagePersist   = "persist"
	StagePanic     = "panic"
)

// maxAppendAttempts bounds retries when another writer takes the chain slot
const maxAppendAttempts = 3

// Emitter accepts security event submissions
type Emitter interface {
	Emit(ctx context.Context, sub *models.SecurityEventSubmission) error
}

// ActorResolver normalizes actor identifiers
type ActorResolver interface {
	Resolve(ctx context.Context, actorUserID, actorClerkID string) actor.Actor
}

// Config holds the optional knobs of a Logger
type Config struct {
	// WriteTimeout bounds one submission end to end. Zero disables it.
	WriteTimeout time.Duration

	// Guardrails overrides the default rule engine
	Guardrails *guardrails.Engine
}

// Logger is the security event pipeline. It is safe for concurrent use.
type Logger struct {
	events  repositories.SecurityEventRepository
	actors  ActorResolver
	hasher  *hashchain.Hasher
	lock    hashchain.ScopeLock
	guards  *guardrails.Engine
	logger  *zap.Logger
	timeout time.Duration

	now   func() time.Time
	newID func() uuid.UUID
}

// NewLogger wires the pipeline. A nil lock falls back to an in-process
// MutexScopeLock.
func NewLogger(
	events repositories.SecurityEventRepository,
	actors ActorResolver,
	hasher *hashchain.Hasher,
	lock hashchain.ScopeLock,
	logger *zap.Logger,
	cfg Config,
) *Logger {
	if lock == nil {
		lock = hashchain.NewMutexScopeLock()
	}
	guards := cfg.Guardrails
	if guards == nil {
		guards = guardrails.Default()
	}
	return &Logger{
		events:  events,
		actors:  actors,
		hasher:  hasher,
		lock:    lock,
		guards:  guards,
		logger:  logger,
		timeout: cfg.WriteTimeout,
		now:     time.Now,
		newID:   uuid.New,
	}
}

// Emit implements Emitter
func (l *Logger) Emit(ctx context.Context, sub *models.SecurityEventSubmission) error {
	return l.LogSecurityEvent(ctx, sub)
}

// LogSecurityEvent records sub. Unless sub.ThrowOnError is set every
// failure is logged and nil is returned.
func (l *Logger) LogSecurityEvent(ctx context.Context, sub *models.SecurityEventSubmission) error {
	_, err := l.Log(ctx, sub)
	return err
}

// Log records sub and returns the persisted record. In fail-soft mode a
// failed submission yields (nil, nil). In strict mode the first failure is
// returned as a *services.DomainError whose type names the failing stage
// (validation, conflict, unavailable, persistence or internal) and which
// wraps the cause, so errors.Is and errors.As still reach it.
func (l *Logger) Log(ctx context.Context, sub *models.SecurityEventSubmission) (rec *models.SecurityEventRecord, err error) {
	strict := sub != nil && sub.ThrowOnError
	eventType := ""
	if sub != nil {
		eventType = sub.EventType
	}

	stage := ""
	defer func() {
		if p := recover(); p != nil {
			stage = StagePanic
			rec = nil
			err = services.NewDomainError(services.ErrorTypeInternal, "security event pipeline panicked", fmt.Errorf("%v", p)).
				WithDetail("stack", string(debug.Stack()))
		}
		if err == nil {
			return
		}
		l.logger.Error("security event not recorded",
			zap.String("event_type", eventType),
			zap.String("stage", stage),
			zap.Bool("throw_on_error", strict),
			zap.Error(err))
		if !strict {
			rec, err = nil, nil
		}
	}()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	rec, stage, err = l.record(ctx, sub)
	return rec, err
}

func (l *Logger) record(ctx context.Context, raw *models.SecurityEventSubmission) (*models.SecurityEventRecord, string, error) {
	if raw == nil {
		return nil, StageValidate, invalid(Validate(nil))
	}
	sub := Normalize(raw)
	if err := Validate(&sub); err != nil {
		return nil, StageValidate, invalid(err)
	}

	rec := l.assemble(ctx, &sub)

	if result := l.guards.Check(guardrails.EventFromRecord(rec)); !result.Valid {
		gerr := &guardrails.Error{EventType: rec.EventType, Reasons: result.Errors}
		return nil, StageGuardrail, services.NewDomainError(services.ErrorTypeGuardrail, "security event guardrails failed", gerr).
			WithDetail("event_type", rec.EventType).
			WithDetail("reasons", result.Errors)
	}

	if _, err := hashchain.Canonicalize(rec.Details); err != nil {
		l.logger.Warn("security event details not serializable, storing fallback",
			zap.String("event_type", rec.EventType),
			zap.Error(err))
		rec.Details = map[string]any{"value": fmt.Sprint(rec.Details)}
	}

	if stage, err := l.append(ctx, rec); err != nil {
		return nil, stage, err
	}

	l.logger.Debug("security event recorded",
		zap.String("event_id", rec.EventID.String()),
		zap.String("event_type", rec.EventType),
		zap.String("chain_scope", rec.ChainScope),
		zap.Int64("chain_seq", rec.ChainSeq))
	return rec, "", nil
}

// assemble builds the pre-hash record: request metadata, resolved actor,
// effective tenant, redacted details and defaults.
func (l *Logger) assemble(ctx context.Context, sub *models.SecurityEventSubmission) *models.SecurityEventRecord {
	rc := reqctx.FromHTTP(sub.Request)
	if sub.RequestContext != nil {
		rc = sub.RequestContext.Merge(rc)
	}

	var who actor.Actor
	if l.actors != nil {
		who = l.actors.Resolve(ctx, sub.ActorUserID, sub.ActorClerkID)
	} else {
		who = actor.Actor{UserID: sub.ActorUserID, ClerkID: sub.ActorClerkID}
	}

	tenantID := sub.TenantID
	if tenantID == "" {
		tenantID = who.TenantID
	}
	displayName := who.DisplayName
	if displayName == "" {
		displayName = sub.ActorDisplayName
	}

	actorType := sub.ActorType
	if actorType == "" {
		actorType = models.ActorTypeSystem
		if !who.IsZero() {
			actorType = models.ActorTypeUser
		}
	}

	occurredAt := l.now()
	if sub.OccurredAt != nil {
		occurredAt = *sub.OccurredAt
	}

	var riskScore *int
	if sub.RiskScore != nil {
		score := *sub.RiskScore
		riskScore = &score
	}

	return &models.SecurityEventRecord{
		EventID:          l.newID(),
		SchemaVersion:    models.SecurityEventSchemaVersion,
		ChainScope:       hashchain.ScopeKey(tenantID),
		EventType:        sub.EventType,
		Category:         sub.Category,
		Action:           sub.Action,
		Resource:         sub.Resource,
		ResourceID:       sub.ResourceID,
		ActorUserID:      who.UserID,
		ActorClerkID:     who.ClerkID,
		ActorType:        actorType,
		ActorDisplayName: displayName,
		TenantID:         tenantID,
		Severity:         withDefault(sub.Severity, models.SeverityLow),
		Outcome:          withDefault(sub.Outcome, models.OutcomeSuccess),
		RiskScore:        riskScore,
		ReasonCodes:      sub.ReasonCodes,
		Message:          sub.Message,
		Details:          redact.Redact(sub.Details),
		RequestContext:   rc,
		RetentionClass:   withDefault(sub.RetentionClass, models.RetentionStandard),
		OccurredAt:       occurredAt.UTC().Truncate(time.Microsecond),
	}
}

// append links rec to the tail of its chain and stores it. A conflict means
// another writer took the slot first; the tail is re-read and the append
// retried.
func (l *Logger) append(ctx context.Context, rec *models.SecurityEventRecord) (string, error) {
	var err error
	stage := StagePersist
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		stage = StageChainLock
		err = l.lock.WithScope(ctx, rec.ChainScope, func(ctx context.Context) error {
			stage = StagePersist
			latest, err := l.events.FindLatest(ctx, rec.ChainScope)
			if err != nil {
				return fmt.Errorf("failed to read chain tail: %w", err)
			}

			rec.ChainSeq = 1
			rec.PrevHash = nil
			if latest != nil {
				prev := latest.RecordHash
				rec.ChainSeq = latest.ChainSeq + 1
				rec.PrevHash = &prev
			}
			rec.IngestedAt = l.now().UTC().Truncate(time.Microsecond)

			hash, err := l.hasher.HashRecord(rec)
			if err != nil {
				stage = StageSerialize
				return services.NewDomainError(services.ErrorTypeSerialization, "security event serialization failed", err)
			}
			rec.RecordHash = hash

			return l.events.Create(ctx, rec)
		})
		if !errors.Is(err, repositories.ErrChainConflict) {
			break
		}
		l.logger.Warn("chain append conflict, retrying",
			zap.String("chain_scope", rec.ChainScope),
			zap.Int64("chain_seq", rec.ChainSeq),
			zap.Int("attempt", attempt))
	}

	if err == nil {
		return "", nil
	}
	return stage, classify(err)
}

// classify maps a storage-side failure onto the error taxonomy
func classify(err error) error {
	var domainErr *services.DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, repositories.ErrChainConflict):
		return services.NewDomainError(services.ErrorTypeConflict, "hash chain append conflict", err)
	case errors.Is(err, context.DeadlineExceeded):
		return services.NewDomainError(services.ErrorTypeUnavailable, "security event write timed out", err)
	default:
		return services.NewDomainError(services.ErrorTypePersistence, "security event persistence failed", err)
	}
}

func invalid(err error) error {
	return services.NewDomainError(services.ErrorTypeValidation, "invalid security event", err)
}

func withDefault[T ~string](v, def T) T {
	if v == "" {
		return def
	}
	return v
}
