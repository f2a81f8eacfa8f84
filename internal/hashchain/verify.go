package hashchain

import (
	"fmt"
	"sort"

	"github.com/upb/security-audit/models"
)

// Failure describes one broken link in a chain
type Failure struct {
	ChainSeq int64  `json:"chain_seq"`
	EventID  string `json:"event_id"`
	Reason   string `json:"reason"`
}

// Report is the result of walking a chain scope from its head
type Report struct {
	Scope      string    `json:"scope"`
	Checked    int       `json:"checked"`
	Valid      bool      `json:"valid"`
	LatestHash string    `json:"latest_hash,omitempty"`
	Failures   []Failure `json:"failures"`
}

// Verify recomputes every record hash in scope and checks linkage,
// sequence continuity and forks. records may be in any order.
func Verify(h *Hasher, scope string, records []models.SecurityEventRecord) Report {
	report := Report{Scope: scope, Checked: len(records), Failures: []Failure{}}

	sorted := make([]models.SecurityEventRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ChainSeq < sorted[j].ChainSeq
	})

	fail := func(rec *models.SecurityEventRecord, format string, args ...any) {
		report.Failures = append(report.Failures, Failure{
			ChainSeq: rec.ChainSeq,
			EventID:  rec.EventID.String(),
			Reason:   fmt.Sprintf(format, args...),
		})
	}

	seenSeq := make(map[int64]bool, len(sorted))
	linked := make(map[string]string, len(sorted))
	expectedSeq := int64(1)
	prevHash := ""

	for i := range sorted {
		rec := &sorted[i]

		if rec.ChainScope != scope {
			fail(rec, "scope mismatch: record belongs to %q", rec.ChainScope)
		}

		if seenSeq[rec.ChainSeq] {
			fail(rec, "fork: chain_seq %d appears more than once", rec.ChainSeq)
		} else if rec.ChainSeq != expectedSeq {
			fail(rec, "sequence gap: expected %d got %d", expectedSeq, rec.ChainSeq)
		}
		seenSeq[rec.ChainSeq] = true

		switch {
		case rec.PrevHash == nil && i > 0:
			fail(rec, "fork: second chain head")
		case rec.PrevHash != nil && i == 0:
			fail(rec, "prev_hash mismatch: chain head must not link to a previous record")
		case rec.PrevHash != nil && *rec.PrevHash != prevHash:
			fail(rec, "prev_hash mismatch: expected %s", prevHash)
		}

		if rec.PrevHash != nil {
			if other, ok := linked[*rec.PrevHash]; ok {
				fail(rec, "fork: prev_hash already linked by event %s", other)
			} else {
				linked[*rec.PrevHash] = rec.EventID.String()
			}
		}

		ok, err := h.Matches(rec)
		switch {
		case err != nil:
			fail(rec, "hash compute failed: %v", err)
		case !ok:
			fail(rec, "record_hash mismatch")
		}

		prevHash = rec.RecordHash
		expectedSeq = rec.ChainSeq + 1
	}

	report.LatestHash = prevHash
	report.Valid = len(report.Failures) == 0
	return report
}
