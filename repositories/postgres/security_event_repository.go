package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/upb/security-audit/internal/hashchain"
	"github.com/upb/security-audit/models"
	"github.com/upb/security-audit/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the SQLSTATE for unique constraint failures
const uniqueViolation = "23505"

// SecurityEventRepository implements the repositories.SecurityEventRepository interface
type SecurityEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSecurityEventRepository creates a new security event repository
func NewSecurityEventRepository(db *DB, logger *zap.Logger) repositories.SecurityEventRepository {
	return &SecurityEventRepository{
		db:     db,
		logger: logger,
	}
}

const securityEventColumns = `
	event_id, schema_version, chain_scope, chain_seq,
	event_type, category, action, resource, resource_id,
	actor_user_id, actor_clerk_id, actor_type, actor_display_name, tenant_id,
	severity, outcome, risk_score, reason_codes, message, details,
	request_context, retention_class, occurred_at, ingested_at,
	record_hash, prev_hash
`

// Create appends a hashed record. Losing a race for the chain position
// yields repositories.ErrChainConflict.
func (r *SecurityEventRepository) Create(ctx context.Context, rec *models.SecurityEventRecord) error {
	query := `
		INSERT INTO security_events (` + securityEventColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)
	`

	var details []byte
	if rec.Details != nil {
		canonical, err := hashchain.Canonicalize(rec.Details)
		if err != nil {
			return fmt.Errorf("failed to encode security event details: %w", err)
		}
		details = canonical
	}
	requestContext, err := json.Marshal(rec.RequestContext)
	if err != nil {
		return fmt.Errorf("failed to encode request context: %w", err)
	}
	reasonCodes := rec.ReasonCodes
	if reasonCodes == nil {
		reasonCodes = []string{}
	}

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		rec.EventID,
		rec.SchemaVersion,
		rec.ChainScope,
		rec.ChainSeq,
		rec.EventType,
		rec.Category,
		rec.Action,
		rec.Resource,
		rec.ResourceID,
		rec.ActorUserID,
		rec.ActorClerkID,
		string(rec.ActorType),
		rec.ActorDisplayName,
		rec.TenantID,
		string(rec.Severity),
		string(rec.Outcome),
		rec.RiskScore,
		pq.Array(reasonCodes),
		rec.Message,
		details,
		requestContext,
		string(rec.RetentionClass),
		rec.OccurredAt,
		rec.IngestedAt,
		rec.RecordHash,
		rec.PrevHash,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("scope %s seq %d: %w", rec.ChainScope, rec.ChainSeq, repositories.ErrChainConflict)
		}
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	r.logger.Debug("security event inserted",
		zap.String("event_id", rec.EventID.String()),
		zap.String("event_type", rec.EventType),
		zap.String("chain_scope", rec.ChainScope),
		zap.Int64("chain_seq", rec.ChainSeq))
	return nil
}

// FindLatest returns the tail of a chain scope, or nil for an empty scope
func (r *SecurityEventRepository) FindLatest(ctx context.Context, scope string) (*models.ChainLink, error) {
	query := `
		SELECT record_hash, chain_seq
		FROM security_events
		WHERE chain_scope = $1
		ORDER BY chain_seq DESC, ingested_at DESC, occurred_at DESC
		LIMIT 1
	`

	executor := GetExecutor(ctx, r.db)
	link := &models.ChainLink{}

	err := executor.QueryRowContext(ctx, query, scope).Scan(&link.RecordHash, &link.ChainSeq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find latest security event: %w", err)
	}

	return link, nil
}

// ListByScope returns records of a chain scope in ascending chain order
func (r *SecurityEventRepository) ListByScope(ctx context.Context, scope string, afterSeq int64, limit int) ([]models.SecurityEventRecord, error) {
	query := `
		SELECT ` + securityEventColumns + `
		FROM security_events
		WHERE chain_scope = $1 AND chain_seq > $2
		ORDER BY chain_seq ASC
		LIMIT $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, scope, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	records := []models.SecurityEventRecord{}
	for rows.Next() {
		rec, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security events: %w", err)
	}

	return records, nil
}

func scanSecurityEvent(rows *sql.Rows) (*models.SecurityEventRecord, error) {
	rec := &models.SecurityEventRecord{}
	var (
		actorType, severity, outcome, retention string
		riskScore                               sql.NullInt64
		details, requestContext                 []byte
		prevHash                                sql.NullString
	)

	err := rows.Scan(
		&rec.EventID,
		&rec.SchemaVersion,
		&rec.ChainScope,
		&rec.ChainSeq,
		&rec.EventType,
		&rec.Category,
		&rec.Action,
		&rec.Resource,
		&rec.ResourceID,
		&rec.ActorUserID,
		&rec.ActorClerkID,
		&actorType,
		&rec.ActorDisplayName,
		&rec.TenantID,
		&severity,
		&outcome,
		&riskScore,
		pq.Array(&rec.ReasonCodes),
		&rec.Message,
		&details,
		&requestContext,
		&retention,
		&rec.OccurredAt,
		&rec.IngestedAt,
		&rec.RecordHash,
		&prevHash,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan security event: %w", err)
	}

	rec.ActorType = models.ActorType(actorType)
	rec.Severity = models.Severity(severity)
	rec.Outcome = models.Outcome(outcome)
	rec.RetentionClass = models.RetentionClass(retention)
	if riskScore.Valid {
		score := int(riskScore.Int64)
		rec.RiskScore = &score
	}
	if prevHash.Valid {
		p := prevHash.String
		rec.PrevHash = &p
	}
	if len(details) > 0 {
		dec := json.NewDecoder(bytes.NewReader(details))
		dec.UseNumber()
		if err := dec.Decode(&rec.Details); err != nil {
			return nil, fmt.Errorf("failed to decode security event details: %w", err)
		}
	}
	if len(requestContext) > 0 {
		if err := json.Unmarshal(requestContext, &rec.RequestContext); err != nil {
			return nil, fmt.Errorf("failed to decode request context: %w", err)
		}
	}

	return rec, nil
}
