package pack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/diagconfig/internal/domain/catalog"
)

// Stage names, in application order. They double as Summary keys and metric
// labels.
const (
	StageServicePoints = "servicePoints"
	StageSections      = "sections"
	StageCategories    = "categories"
	StageSpecimens     = "specimens"
	StageItems         = "items"
	StagePanelItems    = "panelItems"
	StageParameters    = "parameters"
	StageRanges        = "ranges"
	StageTemplates     = "templates"
	StageCapabilities  = "capabilities"
)

// Summary counts the payload rows each stage processed.
type Summary struct {
	ServicePoints int `json:"servicePoints"`
	Sections      int `json:"sections"`
	Categories    int `json:"categories"`
	Specimens     int `json:"specimens"`
	Items         int `json:"items"`
	PanelItems    int `json:"panelItems"`
	Parameters    int `json:"parameters"`
	Ranges        int `json:"ranges"`
	Templates     int `json:"templates"`
	Capabilities  int `json:"capabilities"`
}

type StageCount struct {
	Stage string
	Rows  int
}

// Stages lists the counts in application order.
func (s Summary) Stages() []StageCount {
	return []StageCount{
		{StageServicePoints, s.ServicePoints},
		{StageSections, s.Sections},
		{StageCategories, s.Categories},
		{StageSpecimens, s.Specimens},
		{StageItems, s.Items},
		{StagePanelItems, s.PanelItems},
		{StageParameters, s.Parameters},
		{StageRanges, s.Ranges},
		{StageTemplates, s.Templates},
		{StageCapabilities, s.Capabilities},
	}
}

func (s Summary) Total() int {
	n := 0
	for _, st := range s.Stages() {
		n += st.Rows
	}
	return n
}

// Applier resolves a payload's symbolic code references against a branch's
// catalog and upserts the resulting rows.
type Applier struct {
	store  catalog.Store
	logger zerolog.Logger
}

func NewApplier(store catalog.Store, logger zerolog.Logger) *Applier {
	return &Applier{
		store:  store,
		logger: logger.With().Str("component", "pack-applier").Logger(),
	}
}

// WithinBranch exposes the store's per-branch write boundary so callers can
// persist their own rows atomically with an apply.
func (a *Applier) WithinBranch(ctx context.Context, branchID uuid.UUID, fn func(ctx context.Context) error) error {
	return a.store.WithinBranch(ctx, branchID, fn)
}

// Apply validates p, checks that every service point needing a placement has
// one, then runs the stages in order inside one WithinBranch call. Nothing is
// written when validation fails, and a failed stage rolls back the stages
// before it.
func (a *Applier) Apply(ctx context.Context, branchID uuid.UUID, p *Payload, placements Placements) (Summary, error) {
	if err := p.Validate(); err != nil {
		return Summary{}, err
	}
	if err := p.CheckPlacements(placements); err != nil {
		return Summary{}, err
	}

	var sum Summary
	err := a.store.WithinBranch(ctx, branchID, func(ctx context.Context) error {
		run := &applyRun{
			store:      a.store,
			branchID:   branchID,
			placements: placements,
			refs:       newRefIndex(),
			sum:        Summary{},
		}
		for _, st := range stages {
			start := time.Now()
			if err := st.run(run, ctx, p); err != nil {
				return fmt.Errorf("apply %s: %w", st.name, err)
			}
			a.logger.Debug().
				Str("branch_id", branchID.String()).
				Str("stage", st.name).
				Dur("duration", time.Since(start)).
				Msg("stage applied")
		}
		sum = run.sum
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

var stages = []struct {
	name string
	run  func(r *applyRun, ctx context.Context, p *Payload) error
}{
	{StageServicePoints, (*applyRun).servicePoints},
	{StageSections, (*applyRun).sections},
	{StageCategories, (*applyRun).categories},
	{StageSpecimens, (*applyRun).specimens},
	{StageItems, (*applyRun).items},
	{StagePanelItems, (*applyRun).panelItems},
	{StageParameters, (*applyRun).parameters},
	{StageRanges, (*applyRun).ranges},
	{StageTemplates, (*applyRun).templates},
	{StageCapabilities, (*applyRun).capabilities},
}

type categoryKey struct {
	sectionID uuid.UUID
	code      string
}

type parameterKey struct {
	itemID uuid.UUID
	code   string
}

// refIndex maps normalized codes to the ids of rows written or looked up
// during one apply. Later stages consult it before falling back to the store.
type refIndex struct {
	servicePoints map[string]uuid.UUID
	sections      map[string]uuid.UUID
	categories    map[categoryKey]uuid.UUID
	specimens     map[string]uuid.UUID
	items         map[string]catalog.Item
	parameters    map[parameterKey]uuid.UUID
}

func newRefIndex() *refIndex {
	return &refIndex{
		servicePoints: make(map[string]uuid.UUID),
		sections:      make(map[string]uuid.UUID),
		categories:    make(map[categoryKey]uuid.UUID),
		specimens:     make(map[string]uuid.UUID),
		items:         make(map[string]catalog.Item),
		parameters:    make(map[parameterKey]uuid.UUID),
	}
}

type applyRun struct {
	store      catalog.Store
	branchID   uuid.UUID
	placements Placements
	refs       *refIndex
	sum        Summary
}

// existing turns a Find result into (nil, nil) when the row is absent.
func existing[T any](row *T, err error) (*T, error) {
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, nil
	}
	return row, err
}

// upsert runs fn, retrying once when the store reports a conflicting
// concurrent write.
func upsert(fn func() error) error {
	err := fn()
	if errors.Is(err, catalog.ErrConflictingState) {
		err = fn()
	}
	return err
}

func unknown(entity catalog.Entity, code string) error {
	return &catalog.UnknownReferenceError{Entity: entity, Code: code}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// =========== Resolution ===========

func (r *applyRun) servicePointID(ctx context.Context, raw string) (uuid.UUID, error) {
	code := catalog.NormalizeCode(raw)
	if id, ok := r.refs.servicePoints[code]; ok {
		return id, nil
	}
	sp, err := existing(r.store.FindServicePoint(ctx, r.branchID, code))
	if err != nil {
		return uuid.Nil, err
	}
	if sp == nil {
		return uuid.Nil, unknown(catalog.EntityServicePoint, code)
	}
	r.refs.servicePoints[code] = sp.ID
	return sp.ID, nil
}

func (r *applyRun) sectionID(ctx context.Context, raw string) (uuid.UUID, error) {
	code := catalog.NormalizeCode(raw)
	if id, ok := r.refs.sections[code]; ok {
		return id, nil
	}
	sec, err := existing(r.store.FindSection(ctx, r.branchID, code))
	if err != nil {
		return uuid.Nil, err
	}
	if sec == nil {
		return uuid.Nil, unknown(catalog.EntitySection, code)
	}
	r.refs.sections[code] = sec.ID
	return sec.ID, nil
}

func (r *applyRun) categoryID(ctx context.Context, sectionID uuid.UUID, raw string) (uuid.UUID, error) {
	key := categoryKey{sectionID, catalog.NormalizeCode(raw)}
	if id, ok := r.refs.categories[key]; ok {
		return id, nil
	}
	c, err := existing(r.store.FindCategory(ctx, r.branchID, sectionID, key.code))
	if err != nil {
		return uuid.Nil, err
	}
	if c == nil {
		return uuid.Nil, unknown(catalog.EntityCategory, key.code)
	}
	r.refs.categories[key] = c.ID
	return c.ID, nil
}

func (r *applyRun) specimenID(ctx context.Context, raw string) (uuid.UUID, error) {
	code := catalog.NormalizeCode(raw)
	if id, ok := r.refs.specimens[code]; ok {
		return id, nil
	}
	sp, err := existing(r.store.FindSpecimen(ctx, r.branchID, code))
	if err != nil {
		return uuid.Nil, err
	}
	if sp == nil {
		return uuid.Nil, unknown(catalog.EntitySpecimen, code)
	}
	r.refs.specimens[code] = sp.ID
	return sp.ID, nil
}

func (r *applyRun) item(ctx context.Context, raw string) (catalog.Item, error) {
	code := catalog.NormalizeCode(raw)
	if it, ok := r.refs.items[code]; ok {
		return it, nil
	}
	it, err := existing(r.store.FindItem(ctx, r.branchID, code))
	if err != nil {
		return catalog.Item{}, err
	}
	if it == nil {
		return catalog.Item{}, unknown(catalog.EntityItem, code)
	}
	r.refs.items[code] = *it
	return *it, nil
}

// labTest resolves raw to a non-panel LAB item, the only owner of parameters.
func (r *applyRun) labTest(ctx context.Context, raw string) (catalog.Item, error) {
	it, err := r.item(ctx, raw)
	if err != nil {
		return it, err
	}
	if !it.IsLabTest() {
		return it, &catalog.InvalidReferenceError{
			Entity: catalog.EntityItem,
			Code:   it.Code,
			Reason: "parameters belong to non-panel LAB items only",
		}
	}
	return it, nil
}

func (r *applyRun) parameterID(ctx context.Context, itemID uuid.UUID, raw string) (uuid.UUID, error) {
	key := parameterKey{itemID, catalog.NormalizeCode(raw)}
	if id, ok := r.refs.parameters[key]; ok {
		return id, nil
	}
	p, err := existing(r.store.FindParameter(ctx, itemID, key.code))
	if err != nil {
		return uuid.Nil, err
	}
	if p == nil {
		return uuid.Nil, unknown(catalog.EntityParameter, key.code)
	}
	r.refs.parameters[key] = p.ID
	return p.ID, nil
}

// =========== Stages ===========

func (r *applyRun) servicePoints(ctx context.Context, p *Payload) error {
	for _, e := range p.ServicePoints {
		code := catalog.NormalizeCode(e.Code)
		sp, err := existing(r.store.FindServicePoint(ctx, r.branchID, code))
		if err != nil {
			return err
		}
		if sp == nil {
			sp = &catalog.ServicePoint{BranchID: r.branchID, Code: code, Type: catalog.DefaultServicePointType}
		}
		sp.Name = strings.TrimSpace(e.Name)
		if e.Type != nil {
			sp.Type = strings.ToUpper(strings.TrimSpace(*e.Type))
		}
		if e.SortOrder != nil {
			sp.SortOrder = *e.SortOrder
		}
		if e.Notes != nil {
			sp.Notes = trimmed(e.Notes)
		}
		if node, ok := r.placements[code]; ok {
			sp.LocationNodeID = &node
		}
		sp.Status = catalog.StatusActive

		if err := upsert(func() error { return r.store.UpsertServicePoint(ctx, sp) }); err != nil {
			return err
		}
		r.refs.servicePoints[code] = sp.ID
		r.sum.ServicePoints++
	}
	return nil
}

func (r *applyRun) sections(ctx context.Context, p *Payload) error {
	for _, e := range p.Sections {
		code := catalog.NormalizeCode(e.Code)
		sec, err := existing(r.store.FindSection(ctx, r.branchID, code))
		if err != nil {
			return err
		}
		if sec == nil {
			sec = &catalog.Section{BranchID: r.branchID, Code: code}
		}
		sec.Name = strings.TrimSpace(e.Name)
		if e.SortOrder != nil {
			sec.SortOrder = *e.SortOrder
		}
		sec.Status = catalog.StatusActive

		if err := upsert(func() error { return r.store.UpsertSection(ctx, sec) }); err != nil {
			return err
		}
		r.refs.sections[code] = sec.ID
		r.sum.Sections++
	}
	return nil
}

func (r *applyRun) categories(ctx context.Context, p *Payload) error {
	for _, e := range p.Categories {
		code := catalog.NormalizeCode(e.Code)
		sectionID, err := r.sectionID(ctx, e.SectionCode)
		if err != nil {
			return err
		}
		c, err := existing(r.store.FindCategory(ctx, r.branchID, sectionID, code))
		if err != nil {
			return err
		}
		if c == nil {
			c = &catalog.Category{BranchID: r.branchID, SectionID: sectionID, Code: code}
		}
		c.Name = strings.TrimSpace(e.Name)
		if e.SortOrder != nil {
			c.SortOrder = *e.SortOrder
		}
		c.Status = catalog.StatusActive

		if err := upsert(func() error { return r.store.UpsertCategory(ctx, c) }); err != nil {
			return err
		}
		r.refs.categories[categoryKey{sectionID, code}] = c.ID
		r.sum.Categories++
	}
	return nil
}

func (r *applyRun) specimens(ctx context.Context, p *Payload) error {
	for _, e := range p.Specimens {
		code := catalog.NormalizeCode(e.Code)
		sp, err := existing(r.store.FindSpecimen(ctx, r.branchID, code))
		if err != nil {
			return err
		}
		if sp == nil {
			sp = &catalog.Specimen{BranchID: r.branchID, Code: code}
		}
		sp.Name = strings.TrimSpace(e.Name)
		if e.Container != nil {
			sp.Container = trimmed(e.Container)
		}
		if e.MinVolumeMl != nil {
			v := *e.MinVolumeMl
			sp.MinVolumeMl = &v
		}
		if e.HandlingNotes != nil {
			sp.HandlingNotes = trimmed(e.HandlingNotes)
		}
		if e.SortOrder != nil {
			sp.SortOrder = *e.SortOrder
		}
		sp.Status = catalog.StatusActive

		if err := upsert(func() error { return r.store.UpsertSpecimen(ctx, sp) }); err != nil {
			return err
		}
		r.refs.specimens[code] = sp.ID
		r.sum.Specimens++
	}
	return nil
}

func (r *applyRun) items(ctx context.Context, p *Payload) error {
	for _, e := range p.Items {
		code := catalog.NormalizeCode(e.Code)
		kind, err := catalog.ParseItemKind(e.Kind)
		if err != nil {
			return err
		}
		sectionID, err := r.sectionID(ctx, e.SectionCode)
		if err != nil {
			return err
		}

		it, err := existing(r.store.FindItem(ctx, r.branchID, code))
		if err != nil {
			return err
		}
		if it == nil {
			it = &catalog.Item{BranchID: r.branchID, Code: code}
		}
		if it.SectionID != sectionID {
			// A category of the old section cannot stay attached.
			it.CategoryID = nil
		}
		it.Name = strings.TrimSpace(e.Name)
		it.Kind = kind
		it.SectionID = sectionID

		if e.CategoryCode != nil {
			id, err := r.categoryID(ctx, sectionID, *e.CategoryCode)
			if err != nil {
				return err
			}
			it.CategoryID = &id
		}
		if kind != catalog.KindLab {
			it.SpecimenID = nil
		} else if e.SpecimenCode != nil {
			id, err := r.specimenID(ctx, *e.SpecimenCode)
			if err != nil {
				return err
			}
			it.SpecimenID = &id
		}
		if e.IsPanel != nil {
			it.IsPanel = *e.IsPanel
		}
		if e.TatMinsRoutine != nil {
			it.TatMinsRoutine = e.TatMinsRoutine
		}
		if e.TatMinsStat != nil {
			it.TatMinsStat = e.TatMinsStat
		}
		if e.RequiresAppointment != nil {
			it.RequiresAppointment = *e.RequiresAppointment
		}
		if e.ConsentRequired != nil {
			it.ConsentRequired = *e.ConsentRequired
		}
		if e.PreparationText != nil {
			it.PreparationText = trimmed(e.PreparationText)
		}
		if e.SortOrder != nil {
			it.SortOrder = *e.SortOrder
		}
		it.Status = catalog.StatusActive

		if err := upsert(func() error { return r.store.UpsertItem(ctx, it) }); err != nil {
			return err
		}
		r.refs.items[code] = *it
		r.sum.Items++
	}
	return nil
}

type panelGroup struct {
	panelCode string
	children  []PanelItemEntry
}

// groupPanels groups entries by normalized panel code, in order of first
// appearance.
func groupPanels(entries []PanelItemEntry) []panelGroup {
	var groups []panelGroup
	pos := make(map[string]int)
	for _, e := range entries {
		code := catalog.NormalizeCode(e.PanelCode)
		i, ok := pos[code]
		if !ok {
			i = len(groups)
			pos[code] = i
			groups = append(groups, panelGroup{panelCode: code})
		}
		groups[i].children = append(groups[i].children, e)
	}
	return groups
}

// panelItems replaces each listed panel's composition: existing edges are
// deactivated, then the listed children are upserted active.
func (r *applyRun) panelItems(ctx context.Context, p *Payload) error {
	for _, g := range groupPanels(p.PanelItems) {
		panel, err := r.item(ctx, g.panelCode)
		if err != nil {
			return err
		}
		if !panel.IsPanel {
			return &catalog.InvalidReferenceError{Entity: catalog.EntityItem, Code: panel.Code, Reason: "item is not a panel"}
		}
		if _, err := r.store.DeactivatePanelItems(ctx, panel.ID); err != nil {
			return err
		}
		for i, e := range g.children {
			child, err := r.item(ctx, e.ItemCode)
			if err != nil {
				return err
			}
			if child.ID == panel.ID {
				return &catalog.InvalidReferenceError{Entity: catalog.EntityPanelItem, Code: child.Code, Reason: "a panel cannot contain itself"}
			}
			pi := &catalog.PanelItem{PanelID: panel.ID, ItemID: child.ID, SortOrder: i, Status: catalog.StatusActive}
			if e.SortOrder != nil {
				pi.SortOrder = *e.SortOrder
			}
			if err := upsert(func() error { return r.store.UpsertPanelItem(ctx, pi) }); err != nil {
				return err
			}
			r.sum.PanelItems++
		}
	}
	return nil
}

func (r *applyRun) parameters(ctx context.Context, p *Payload) error {
	for _, e := range p.Parameters {
		test, err := r.labTest(ctx, e.ItemCode)
		if err != nil {
			return err
		}
		code := catalog.NormalizeCode(e.Code)
		dt, err := catalog.ParseDataType(e.DataType)
		if err != nil {
			return err
		}

		param, err := existing(r.store.FindParameter(ctx, test.ID, code))
		if err != nil {
			return err
		}
		if param == nil {
			param = &catalog.Parameter{TestID: test.ID, Code: code}
		}
		param.Name = strings.TrimSpace(e.Name)
		param.DataType = dt
		if e.Unit != nil {
			param.Unit = trimmed(e.Unit)
		}
		if e.Precision != nil {
			param.Precision = e.Precision
		}
		if e.AllowedText != nil {
			param.AllowedText = trimmed(e.AllowedText)
		}
		if e.SortOrder != nil {
			param.SortOrder = *e.SortOrder
		}
		param.Status = catalog.StatusActive

		if err := upsert(func() error { return r.store.UpsertParameter(ctx, param) }); err != nil {
			return err
		}
		r.refs.parameters[parameterKey{test.ID, code}] = param.ID
		r.sum.Parameters++
	}
	return nil
}

// ranges appends one reference range per entry. Re-applying a pack adds
// ranges again rather than replacing them.
func (r *applyRun) ranges(ctx context.Context, p *Payload) error {
	for _, e := range p.Ranges {
		test, err := r.labTest(ctx, e.ItemCode)
		if err != nil {
			return err
		}
		paramID, err := r.parameterID(ctx, test.ID, e.ParameterCode)
		if err != nil {
			return err
		}
		rg := &catalog.Range{
			ParameterID: paramID,
			Sex:         trimmed(e.Sex),
			AgeMinDays:  e.AgeMinDays,
			AgeMaxDays:  e.AgeMaxDays,
			Low:         e.Low,
			High:        e.High,
			TextRange:   trimmed(e.TextRange),
			Status:      catalog.StatusActive,
		}
		if e.SortOrder != nil {
			rg.SortOrder = *e.SortOrder
		}
		if err := rg.Validate(); err != nil {
			return err
		}
		if err := r.store.CreateRange(ctx, rg); err != nil {
			return err
		}
		r.sum.Ranges++
	}
	return nil
}

// templates appends one template per entry, like ranges.
func (r *applyRun) templates(ctx context.Context, p *Payload) error {
	for _, e := range p.Templates {
		it, err := r.item(ctx, e.ItemCode)
		if err != nil {
			return err
		}
		kind := catalog.DefaultTemplateKind(it.Kind)
		if e.Kind != nil {
			if kind, err = catalog.ParseTemplateKind(*e.Kind); err != nil {
				return err
			}
		}
		t := &catalog.Template{
			ItemID: it.ID,
			Kind:   kind,
			Name:   strings.TrimSpace(e.Name),
			Body:   e.Body,
			Status: catalog.StatusActive,
		}
		if err := r.store.CreateTemplate(ctx, t); err != nil {
			return err
		}
		r.sum.Templates++
	}
	return nil
}

func (r *applyRun) capabilities(ctx context.Context, p *Payload) error {
	for _, e := range p.Capabilities {
		spID, err := r.servicePointID(ctx, e.ServicePointCode)
		if err != nil {
			return err
		}
		it, err := r.item(ctx, e.ItemCode)
		if err != nil {
			return err
		}

		c, err := existing(r.store.FindCapability(ctx, spID, it.ID))
		if err != nil {
			return err
		}
		if c == nil {
			c = &catalog.Capability{BranchID: r.branchID, ServicePointID: spID, DiagnosticItemID: it.ID}
		}
		if e.Modality != nil {
			c.Modality = trimmed(e.Modality)
		}
		if e.DefaultDurationMins != nil {
			c.DefaultDurationMins = e.DefaultDurationMins
		}
		if e.IsPrimary != nil {
			c.IsPrimary = *e.IsPrimary
		}
		c.Status = catalog.StatusActive

		if err := upsert(func() error { return r.store.UpsertCapability(ctx, c) }); err != nil {
			return err
		}
		r.sum.Capabilities++

		for _, al := range e.allowLists() {
			for _, ref := range al.ids {
				a := &catalog.Allowance{CapabilityID: c.ID, Entity: al.list, RefID: ref, Status: catalog.StatusActive}
				if err := upsert(func() error { return r.store.UpsertAllowance(ctx, a) }); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
