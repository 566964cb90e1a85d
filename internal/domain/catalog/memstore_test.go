package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func seedSection(t *testing.T, s *MemStore, branchID uuid.UUID, code string) *Section {
	t.Helper()
	sec := &Section{BranchID: branchID, Code: code, Name: code, Status: StatusActive}
	if err := s.UpsertSection(context.Background(), sec); err != nil {
		t.Fatalf("seed section: %v", err)
	}
	return sec
}

func seedItem(t *testing.T, s *MemStore, branchID, sectionID uuid.UUID, code string, kind ItemKind, panel bool) *Item {
	t.Helper()
	it := &Item{BranchID: branchID, SectionID: sectionID, Code: code, Name: code, Kind: kind, IsPanel: panel, Status: StatusActive}
	if err := s.UpsertItem(context.Background(), it); err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return it
}

func TestMemStore_UpsertKeepsID(t *testing.T) {
	s := NewMemStore()
	branch := uuid.New()
	first := seedSection(t, s, branch, "HEMATOLOGY")

	again := &Section{BranchID: branch, Code: "HEMATOLOGY", Name: "Haematology", Status: StatusActive}
	if err := s.UpsertSection(context.Background(), again); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("expected upsert to reuse id %s, got %s", first.ID, again.ID)
	}
	got, err := s.FindSection(context.Background(), branch, "HEMATOLOGY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Haematology" {
		t.Errorf("expected updated name, got %s", got.Name)
	}
	if len(s.sections) != 1 {
		t.Errorf("expected 1 section, got %d", len(s.sections))
	}
}

func TestMemStore_BranchScoping(t *testing.T) {
	s := NewMemStore()
	a, b := uuid.New(), uuid.New()
	seedSection(t, s, a, "LAB")

	if _, err := s.FindSection(context.Background(), b, "LAB"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound in another branch, got %v", err)
	}
	seedSection(t, s, b, "LAB")
	if len(s.sections) != 2 {
		t.Errorf("expected 2 sections across branches, got %d", len(s.sections))
	}
}

func TestMemStore_UnknownReferences(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	branch := uuid.New()

	err := s.UpsertItem(ctx, &Item{BranchID: branch, SectionID: uuid.New(), Code: "CBC", Name: "CBC", Kind: KindLab})
	if !errors.Is(err, ErrUnknownReference) {
		t.Errorf("expected ErrUnknownReference for missing section, got %v", err)
	}

	sec := seedSection(t, s, branch, "LAB")
	panel := seedItem(t, s, branch, sec.ID, "LFT", KindLab, true)
	err = s.UpsertPanelItem(ctx, &PanelItem{PanelID: panel.ID, ItemID: panel.ID, Status: StatusActive})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference for self-containing panel, got %v", err)
	}
	err = s.UpsertCapability(ctx, &Capability{BranchID: branch, ServicePointID: uuid.New(), DiagnosticItemID: panel.ID})
	if !errors.Is(err, ErrUnknownReference) {
		t.Errorf("expected ErrUnknownReference for missing service point, got %v", err)
	}
}

func TestMemStore_WithinBranchRollsBack(t *testing.T) {
	s := NewMemStore()
	branch := uuid.New()
	sec := seedSection(t, s, branch, "LAB")
	boom := errors.New("boom")

	err := s.WithinBranch(context.Background(), branch, func(ctx context.Context) error {
		if err := s.UpsertSection(ctx, &Section{BranchID: branch, Code: "LAB", Name: "Renamed", Status: StatusActive}); err != nil {
			return err
		}
		if err := s.UpsertSection(ctx, &Section{BranchID: branch, Code: "RAD", Name: "Radiology", Status: StatusActive}); err != nil {
			return err
		}
		if err := s.SetStatus(ctx, EntitySection, sec.ID, StatusInactive); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	got, err := s.FindSection(context.Background(), branch, "LAB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "LAB" || got.Status != StatusActive {
		t.Errorf("expected original section restored, got name=%s status=%s", got.Name, got.Status)
	}
	if _, err := s.FindSection(context.Background(), branch, "RAD"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected created section to be rolled back, got %v", err)
	}
}

func TestMemStore_WithinBranchNested(t *testing.T) {
	s := NewMemStore()
	branch := uuid.New()

	err := s.WithinBranch(context.Background(), branch, func(ctx context.Context) error {
		return s.WithinBranch(ctx, branch, func(ctx context.Context) error {
			return s.UpsertSection(ctx, &Section{BranchID: branch, Code: "LAB", Name: "Lab", Status: StatusActive})
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.FindSection(context.Background(), branch, "LAB"); err != nil {
		t.Errorf("expected nested write to persist, got %v", err)
	}
}

func TestMemStore_WithinBranchSerializes(t *testing.T) {
	s := NewMemStore()
	branch := uuid.New()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithinBranch(context.Background(), branch, func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				err := s.UpsertSection(ctx, &Section{BranchID: branch, Code: "LAB", Name: "Lab", Status: StatusActive})

				mu.Lock()
				inside--
				mu.Unlock()
				return err
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected at most one writer per branch, saw %d", maxInside)
	}
	if len(s.sections) != 1 {
		t.Errorf("expected concurrent upserts to converge on 1 row, got %d", len(s.sections))
	}
}

func TestMemStore_DeactivatePanelItems(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	branch := uuid.New()
	sec := seedSection(t, s, branch, "LAB")
	panel := seedItem(t, s, branch, sec.ID, "LFT", KindLab, true)
	alt := seedItem(t, s, branch, sec.ID, "ALT", KindLab, false)
	ast := seedItem(t, s, branch, sec.ID, "AST", KindLab, false)

	for i, child := range []*Item{alt, ast} {
		if err := s.UpsertPanelItem(ctx, &PanelItem{PanelID: panel.ID, ItemID: child.ID, SortOrder: i, Status: StatusActive}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	n, err := s.DeactivatePanelItems(ctx, panel.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deactivated edges, got %d", n)
	}
	snap, _ := s.ReadinessSnapshot(ctx, branch)
	for _, it := range snap.Items {
		if it.ID == panel.ID && it.PanelChildren != 0 {
			t.Errorf("expected 0 active children, got %d", it.PanelChildren)
		}
	}
}

func TestMemStore_ReadinessSnapshotCountsActiveOnly(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	branch := uuid.New()
	sec := seedSection(t, s, branch, "LAB")

	node := uuid.New()
	sp := &ServicePoint{BranchID: branch, LocationNodeID: &node, Code: "MAIN-LAB", Name: "Main Lab", Type: DefaultServicePointType, Status: StatusActive}
	if err := s.UpsertServicePoint(ctx, sp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idle := &ServicePoint{BranchID: branch, Code: "IDLE", Name: "Idle", Type: DefaultServicePointType, Status: StatusInactive}
	if err := s.UpsertServicePoint(ctx, idle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	glucose := seedItem(t, s, branch, sec.ID, "GLU", KindLab, false)
	retired := seedItem(t, s, branch, sec.ID, "OLD", KindLab, false)
	if err := s.SetStatus(ctx, EntityItem, retired.ID, StatusInactive); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active := &Parameter{TestID: glucose.ID, Code: "GLU", Name: "Glucose", DataType: DataNumeric, Status: StatusActive}
	inactive := &Parameter{TestID: glucose.ID, Code: "GLU-OLD", Name: "Glucose (old)", DataType: DataNumeric, Status: StatusInactive}
	for _, p := range []*Parameter{active, inactive} {
		if err := s.UpsertParameter(ctx, p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := s.UpsertCapability(ctx, &Capability{BranchID: branch, ServicePointID: sp.ID, DiagnosticItemID: glucose.ID, Status: StatusActive}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, err := s.ReadinessSnapshot(ctx, branch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.ServicePoints) != 1 || snap.ServicePoints[0].Code != "MAIN-LAB" {
		t.Fatalf("expected only the active service point, got %+v", snap.ServicePoints)
	}
	if snap.ServicePoints[0].Capabilities != 1 {
		t.Errorf("expected 1 capability, got %d", snap.ServicePoints[0].Capabilities)
	}
	if len(snap.Items) != 1 {
		t.Fatalf("expected 1 active item, got %d", len(snap.Items))
	}
	if snap.Items[0].Parameters != 1 {
		t.Errorf("expected 1 active parameter, got %d", snap.Items[0].Parameters)
	}
	if snap.Items[0].Capabilities != 1 {
		t.Errorf("expected 1 active capability, got %d", snap.Items[0].Capabilities)
	}
}

func TestMemStore_ReadinessSnapshotOrder(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	branch := uuid.New()
	sec := seedSection(t, s, branch, "LAB")

	for _, it := range []*Item{
		{Code: "ZZZ", SortOrder: 0},
		{Code: "BBB", SortOrder: 1},
		{Code: "AAA", SortOrder: 1},
	} {
		it.BranchID, it.SectionID, it.Name, it.Kind, it.Status = branch, sec.ID, it.Code, KindImaging, StatusActive
		if err := s.UpsertItem(ctx, it); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	snap, _ := s.ReadinessSnapshot(ctx, branch)
	want := []string{"ZZZ", "AAA", "BBB"}
	for i, code := range want {
		if snap.Items[i].Code != code {
			t.Errorf("position %d: expected %s, got %s", i, code, snap.Items[i].Code)
		}
	}
}
