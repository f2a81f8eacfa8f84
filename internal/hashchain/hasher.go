// Package hashchain links security event records into per-tenant,
// tamper-evident chains. Each record carries an HMAC over its canonical
// payload, and that payload includes the previous record's hash.
package hashchain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/upb/security-audit/models"
)

// ErrMissingKey is returned when a hasher is built without a secret
var ErrMissingKey = errors.New("hash chain key is required")

// Hasher computes keyed record hashes
type Hasher struct {
	key []byte
}

// NewHasher creates a hasher keyed with secret
func NewHasher(secret []byte) (*Hasher, error) {
	if len(secret) == 0 {
		return nil, ErrMissingKey
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Hasher{key: key}, nil
}

// ComputeRecordHash returns the hex HMAC-SHA256 of the canonical payload
func (h *Hasher) ComputeRecordHash(payload map[string]any) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize record payload: %w", err)
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// HashRecord computes the hash a record should carry
func (h *Hasher) HashRecord(rec *models.SecurityEventRecord) (string, error) {
	return h.ComputeRecordHash(Payload(rec))
}

// Matches reports whether rec's stored hash is the one its content produces
func (h *Hasher) Matches(rec *models.SecurityEventRecord) (bool, error) {
	expected, err := h.HashRecord(rec)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(rec.RecordHash)), nil
}

// FormatTimestamp is the single timestamp representation used in hashes.
// Storage keeps microseconds, so anything finer is dropped.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
}

// Payload builds the hashed view of a record. record_hash and chain_scope
// are excluded; prev_hash is null for the head of a chain.
func Payload(rec *models.SecurityEventRecord) map[string]any {
	var riskScore any
	if rec.RiskScore != nil {
		riskScore = *rec.RiskScore
	}
	var prevHash any
	if rec.PrevHash != nil {
		prevHash = *rec.PrevHash
	}

	reasonCodes := make([]any, len(rec.ReasonCodes))
	for i, code := range rec.ReasonCodes {
		reasonCodes[i] = code
	}

	rc := rec.RequestContext
	return map[string]any{
		"event_id":           rec.EventID.String(),
		"schema_version":     rec.SchemaVersion,
		"chain_seq":          rec.ChainSeq,
		"event_type":         rec.EventType,
		"category":           rec.Category,
		"action":             rec.Action,
		"resource":           rec.Resource,
		"resource_id":        rec.ResourceID,
		"actor_user_id":      rec.ActorUserID,
		"actor_clerk_id":     rec.ActorClerkID,
		"actor_type":         string(rec.ActorType),
		"actor_display_name": rec.ActorDisplayName,
		"tenant_id":          rec.TenantID,
		"severity":           string(rec.Severity),
		"outcome":            string(rec.Outcome),
		"risk_score":         riskScore,
		"reason_codes":       reasonCodes,
		"message":            rec.Message,
		"details":            rec.Details,
		"request_context": map[string]any{
			"ip_address":     rc.IPAddress,
			"user_agent":     rc.UserAgent,
			"request_id":     rc.RequestID,
			"route":          rc.Route,
			"http_method":    rc.HTTPMethod,
			"correlation_id": rc.CorrelationID,
			"session_id":     rc.SessionID,
		},
		"retention_class": string(rec.RetentionClass),
		"occurred_at":     FormatTimestamp(rec.OccurredAt),
		"ingested_at":     FormatTimestamp(rec.IngestedAt),
		"prev_hash":       prevHash,
	}
}
