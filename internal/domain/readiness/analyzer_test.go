package readiness

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ehr/diagconfig/internal/domain/catalog"
	"github.com/ehr/diagconfig/internal/platform/metrics"
)

type stubSource struct {
	snap *catalog.Snapshot
	err  error
}

func (s *stubSource) ReadinessSnapshot(_ context.Context, branchID uuid.UUID) (*catalog.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.snap.BranchID = branchID
	return s.snap, nil
}

func labItem(params, templates, caps int) catalog.ItemStats {
	return catalog.ItemStats{
		ID: uuid.New(), Code: "CBC", Name: "Complete Blood Count", Kind: catalog.KindLab,
		Parameters: params, Templates: templates, Capabilities: caps,
	}
}

func servicePoint(caps int) catalog.ServicePointStats {
	return catalog.ServicePointStats{ID: uuid.New(), Code: "MAIN-LAB", Name: "Main Lab", Capabilities: caps}
}

func severities(r *Report) []Severity {
	out := make([]Severity, len(r.Issues))
	for i, is := range r.Issues {
		out[i] = is.Severity
	}
	return out
}

func TestEvaluate_EmptyBranch(t *testing.T) {
	r := Evaluate(&catalog.Snapshot{}, DefaultRules())
	if r.Ready {
		t.Error("expected empty branch not ready")
	}
	if len(r.Issues) != 2 || r.Blockers() != 2 {
		t.Fatalf("expected exactly two blockers, got %+v", r.Issues)
	}
	if r.Issues[0].Fix.Kind != FixServicePoint || r.Issues[1].Fix.Kind != FixCatalog {
		t.Errorf("unexpected fix kinds %s, %s", r.Issues[0].Fix.Kind, r.Issues[1].Fix.Kind)
	}
}

func TestEvaluate_BareLabItem(t *testing.T) {
	item := labItem(0, 0, 0)
	sp := servicePoint(0)
	r := Evaluate(&catalog.Snapshot{Items: []catalog.ItemStats{item}, ServicePoints: []catalog.ServicePointStats{sp}}, DefaultRules())

	if r.Ready {
		t.Error("expected not ready")
	}
	want := []Severity{SeverityBlocker, SeverityWarn, SeverityBlocker, SeverityWarn}
	got := severities(r)
	if len(got) != len(want) {
		t.Fatalf("expected %d issues, got %+v", len(want), r.Issues)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("issue %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if r.Blockers() != 2 || r.Warnings() != 2 {
		t.Errorf("expected 2 blockers and 2 warnings, got %d and %d", r.Blockers(), r.Warnings())
	}

	kinds := []FixKind{FixLabParams, FixTemplates, FixCapability, FixCapability}
	for i, k := range kinds {
		if r.Issues[i].Fix.Kind != k {
			t.Errorf("issue %d: expected fix %s, got %s", i, k, r.Issues[i].Fix.Kind)
		}
	}
	if id := r.Issues[0].Fix.ItemID; id == nil || *id != item.ID {
		t.Errorf("expected itemId %s, got %v", item.ID, id)
	}
	if id := r.Issues[3].Fix.ServicePointID; id == nil || *id != sp.ID {
		t.Errorf("expected servicePointId %s, got %v", sp.ID, id)
	}
}

func TestEvaluate_ConfiguredLabItem(t *testing.T) {
	r := Evaluate(&catalog.Snapshot{
		Items:         []catalog.ItemStats{labItem(1, 1, 1)},
		ServicePoints: []catalog.ServicePointStats{servicePoint(1)},
	}, DefaultRules())
	if !r.Ready || len(r.Issues) != 0 {
		t.Errorf("expected ready with no issues, got %+v", r.Issues)
	}
}

func TestEvaluate_Panels(t *testing.T) {
	empty := catalog.ItemStats{ID: uuid.New(), Code: "LFT", Name: "Liver panel", Kind: catalog.KindLab, IsPanel: true}
	full := catalog.ItemStats{ID: uuid.New(), Code: "RFT", Name: "Renal panel", Kind: catalog.KindLab, IsPanel: true, PanelChildren: 3}
	r := Evaluate(&catalog.Snapshot{
		Items:         []catalog.ItemStats{empty, full, labItem(1, 1, 1)},
		ServicePoints: []catalog.ServicePointStats{servicePoint(1)},
	}, DefaultRules())

	if len(r.Issues) != 1 {
		t.Fatalf("expected one issue, got %+v", r.Issues)
	}
	is := r.Issues[0]
	if is.Severity != SeverityBlocker || is.Fix.Kind != FixPanel || is.Fix.PanelID == nil || *is.Fix.PanelID != empty.ID {
		t.Errorf("unexpected panel issue %+v", is)
	}
	if is.Fix.ItemID != nil {
		t.Error("expected panel fix to carry only panelId")
	}
}

func TestEvaluate_OnlyPanelsCountsAsNoItems(t *testing.T) {
	panel := catalog.ItemStats{ID: uuid.New(), Code: "P", Name: "Panel", Kind: catalog.KindLab, IsPanel: true, PanelChildren: 1}
	r := Evaluate(&catalog.Snapshot{
		Items:         []catalog.ItemStats{panel},
		ServicePoints: []catalog.ServicePointStats{servicePoint(1)},
	}, DefaultRules())
	if len(r.Issues) != 1 || r.Issues[0].Fix.Kind != FixCatalog {
		t.Errorf("expected a single no-items blocker, got %+v", r.Issues)
	}
}

func TestEvaluate_ImagingTemplateIsBlocker(t *testing.T) {
	xr := catalog.ItemStats{ID: uuid.New(), Code: "XR", Name: "Chest X-ray", Kind: catalog.KindImaging, Capabilities: 1}
	r := Evaluate(&catalog.Snapshot{
		Items:         []catalog.ItemStats{xr},
		ServicePoints: []catalog.ServicePointStats{servicePoint(1)},
	}, DefaultRules())
	if len(r.Issues) != 1 {
		t.Fatalf("expected one issue, got %+v", r.Issues)
	}
	if r.Issues[0].Severity != SeverityBlocker || r.Issues[0].Fix.Kind != FixTemplates {
		t.Errorf("unexpected issue %+v", r.Issues[0])
	}
	if r.Ready {
		t.Error("expected not ready")
	}
}

func TestAnalyzer_CheckAgainstMemStore(t *testing.T) {
	store := catalog.NewMemStore()
	ctx := context.Background()
	branch := uuid.New()

	sec := &catalog.Section{BranchID: branch, Code: "HEM", Name: "Hematology", Status: catalog.StatusActive}
	if err := store.UpsertSection(ctx, sec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	active := &catalog.Item{BranchID: branch, SectionID: sec.ID, Code: "CBC", Name: "CBC", Kind: catalog.KindLab, Status: catalog.StatusActive}
	inactive := &catalog.Item{BranchID: branch, SectionID: sec.ID, Code: "OLD", Name: "Old", Kind: catalog.KindLab, Status: catalog.StatusInactive}
	for _, it := range []*catalog.Item{active, inactive} {
		if err := store.UpsertItem(ctx, it); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	a := NewAnalyzer(store, nil, zerolog.Nop())
	r, err := a.Check(ctx, branch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.BranchID != branch {
		t.Errorf("expected branch %s, got %s", branch, r.BranchID)
	}
	// No service points, plus parameters, template and capability for CBC only.
	if len(r.Issues) != 4 {
		t.Fatalf("expected 4 issues, got %+v", r.Issues)
	}
	for _, is := range r.Issues {
		if is.Fix.ItemID != nil && *is.Fix.ItemID == inactive.ID {
			t.Errorf("inactive item reported: %+v", is)
		}
	}
}

func TestAnalyzer_StoreErrorPropagates(t *testing.T) {
	a := NewAnalyzer(&stubSource{err: catalog.ErrStoreUnavailable}, nil, zerolog.Nop())
	if _, err := a.Check(context.Background(), uuid.New()); !errors.Is(err, catalog.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestAnalyzer_CustomRules(t *testing.T) {
	always := ruleFunc{"always", func(*catalog.Snapshot) []Issue {
		return []Issue{{Severity: SeverityWarn, Title: "note", Fix: Fix{Kind: FixCatalog}}}
	}}
	a := NewAnalyzer(&stubSource{snap: &catalog.Snapshot{}}, nil, zerolog.Nop(), always)
	r, err := a.Check(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Ready || len(r.Issues) != 1 {
		t.Errorf("expected ready report with one warning, got %+v", r)
	}
}

func TestAnalyzer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewAnalyzer(&stubSource{snap: &catalog.Snapshot{}}, metrics.New(reg), zerolog.Nop())
	if _, err := a.Check(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `
# HELP diagconfig_readiness_checks_total Readiness reports produced, by verdict.
# TYPE diagconfig_readiness_checks_total counter
diagconfig_readiness_checks_total{ready="false"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "diagconfig_readiness_checks_total"); err != nil {
		t.Error(err)
	}
}

func TestDefaultRules_Names(t *testing.T) {
	seen := make(map[string]bool)
	rules := DefaultRules()
	if len(rules) != 8 {
		t.Fatalf("expected 8 rules, got %d", len(rules))
	}
	for _, r := range rules {
		if seen[r.Name()] {
			t.Errorf("duplicate rule name %s", r.Name())
		}
		seen[r.Name()] = true
	}
}
