package readiness

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/diagconfig/internal/domain/catalog"
	"github.com/ehr/diagconfig/internal/platform/metrics"
)

// SnapshotSource loads the active configuration of a branch.
type SnapshotSource interface {
	ReadinessSnapshot(ctx context.Context, branchID uuid.UUID) (*catalog.Snapshot, error)
}

// Report is the go-live verdict of a branch. Ready holds when no issue is a
// blocker.
type Report struct {
	BranchID uuid.UUID `json:"branchId"`
	Ready    bool      `json:"ready"`
	Issues   []Issue   `json:"issues"`
}

func (r *Report) count(s Severity) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == s {
			n++
		}
	}
	return n
}

func (r *Report) Blockers() int { return r.count(SeverityBlocker) }
func (r *Report) Warnings() int { return r.count(SeverityWarn) }

// Evaluate runs rules over snap in order and concatenates their issues.
func Evaluate(snap *catalog.Snapshot, rules []Rule) *Report {
	r := &Report{BranchID: snap.BranchID, Issues: []Issue{}}
	for _, rule := range rules {
		r.Issues = append(r.Issues, rule.Evaluate(snap)...)
	}
	r.Ready = r.Blockers() == 0
	return r
}

// Analyzer produces readiness reports from the catalog store. It never
// writes.
type Analyzer struct {
	source  SnapshotSource
	rules   []Rule
	metrics *metrics.Collectors
	logger  zerolog.Logger
}

// NewAnalyzer builds an analyzer over source. With no rules it uses
// DefaultRules.
func NewAnalyzer(source SnapshotSource, m *metrics.Collectors, logger zerolog.Logger, rules ...Rule) *Analyzer {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Analyzer{
		source:  source,
		rules:   rules,
		metrics: m,
		logger:  logger.With().Str("component", "readiness").Logger(),
	}
}

// Check evaluates the branch. Store errors are returned unchanged.
func (a *Analyzer) Check(ctx context.Context, branchID uuid.UUID) (*Report, error) {
	start := time.Now()
	snap, err := a.source.ReadinessSnapshot(ctx, branchID)
	if err != nil {
		return nil, err
	}
	r := Evaluate(snap, a.rules)
	r.BranchID = branchID

	a.metrics.ObserveReadiness(r.Ready, map[string]int{
		string(SeverityBlocker): r.Blockers(),
		string(SeverityWarn):    r.Warnings(),
	})
	a.logger.Debug().
		Str("branch_id", branchID.String()).
		Bool("ready", r.Ready).
		Int("blockers", r.Blockers()).
		Int("warnings", r.Warnings()).
		Dur("duration", time.Since(start)).
		Msg("readiness evaluated")
	return r, nil
}
