package securityevent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/security-audit/internal/hashchain"
	"github.com/upb/security-audit/models"
	"github.com/upb/security-audit/services"
)

// verifyPageSize is the number of records read per round trip
const verifyPageSize = 500

// maxScopeLength matches the tenant_id bound of a submission
const maxScopeLength = 128

// VerifyChain reads every record of scope in chain order and checks it with
// the pipeline's key. An empty scope yields services.ErrScopeNotFound.
func (l *Logger) VerifyChain(ctx context.Context, scope string) (*hashchain.Report, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" || len(scope) > maxScopeLength {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid chain scope", nil).
			WithDetail("scope", scope)
	}

	var records []models.SecurityEventRecord
	afterSeq := int64(0)
	for {
		page, err := l.events.ListByScope(ctx, scope, afterSeq, verifyPageSize)
		if err != nil {
			return nil, classify(err)
		}
		records = append(records, page...)
		if len(page) < verifyPageSize {
			break
		}
		afterSeq = page[len(page)-1].ChainSeq
	}

	if len(records) == 0 {
		return nil, services.ErrScopeNotFound
	}

	report := hashchain.Verify(l.hasher, scope, records)
	if !report.Valid {
		l.logger.Warn("hash chain verification failed",
			zap.String("chain_scope", scope),
			zap.Int("checked", report.Checked),
			zap.Int("failures", len(report.Failures)))
	}
	return &report, nil
}
