package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type panelKey struct{ panelID, itemID uuid.UUID }

type memTxKey struct{}

// memTx journals undo steps for one WithinBranch call.
type memTx struct {
	branchID uuid.UUID
	undo     []func()
}

// MemStore is an in-process Store. It backs the CLI preview command and the
// engine tests. Writes inside WithinBranch are journaled and rolled back when
// the callback fails.
type MemStore struct {
	mu sync.RWMutex

	locksMu     sync.Mutex
	branchLocks map[uuid.UUID]*sync.Mutex

	servicePoints map[uuid.UUID]*ServicePoint
	sections      map[uuid.UUID]*Section
	categories    map[uuid.UUID]*Category
	specimens     map[uuid.UUID]*Specimen
	items         map[uuid.UUID]*Item
	panelItems    map[panelKey]*PanelItem
	parameters    map[uuid.UUID]*Parameter
	ranges        map[uuid.UUID]*Range
	templates     map[uuid.UUID]*Template
	capabilities  map[uuid.UUID]*Capability
	allowances    map[uuid.UUID]*Allowance

	now func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		branchLocks:   make(map[uuid.UUID]*sync.Mutex),
		servicePoints: make(map[uuid.UUID]*ServicePoint),
		sections:      make(map[uuid.UUID]*Section),
		categories:    make(map[uuid.UUID]*Category),
		specimens:     make(map[uuid.UUID]*Specimen),
		items:         make(map[uuid.UUID]*Item),
		panelItems:    make(map[panelKey]*PanelItem),
		parameters:    make(map[uuid.UUID]*Parameter),
		ranges:        make(map[uuid.UUID]*Range),
		templates:     make(map[uuid.UUID]*Template),
		capabilities:  make(map[uuid.UUID]*Capability),
		allowances:    make(map[uuid.UUID]*Allowance),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemStore) branchLock(branchID uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.branchLocks[branchID]
	if !ok {
		l = &sync.Mutex{}
		s.branchLocks[branchID] = l
	}
	return l
}

func (s *MemStore) WithinBranch(ctx context.Context, branchID uuid.UUID, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok && tx.branchID == branchID {
		return fn(ctx)
	}

	l := s.branchLock(branchID)
	l.Lock()
	defer l.Unlock()

	tx := &memTx{branchID: branchID}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// record registers an undo step. Callers hold s.mu.
func (s *MemStore) record(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

func notFound(entity Entity, key string) error {
	return fmt.Errorf("%s %s: %w", entity, key, ErrNotFound)
}

// putRow stores row under id, journaling the previous value.
func putRow[K comparable, T any](ctx context.Context, s *MemStore, m map[K]*T, id K, row *T) {
	prev, existed := m[id]
	m[id] = row
	s.record(ctx, func() {
		if existed {
			m[id] = prev
		} else {
			delete(m, id)
		}
	})
}

// =========== Service points ===========

func (s *MemStore) FindServicePoint(_ context.Context, branchID uuid.UUID, code string) (*ServicePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sp := range s.servicePoints {
		if sp.BranchID == branchID && sp.Code == code {
			cp := *sp
			return &cp, nil
		}
	}
	return nil, notFound(EntityServicePoint, code)
}

func (s *MemStore) UpsertServicePoint(ctx context.Context, sp *ServicePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sp.CreatedAt, sp.UpdatedAt = now, now
	for _, cur := range s.servicePoints {
		if cur.BranchID == sp.BranchID && cur.Code == sp.Code {
			sp.ID, sp.CreatedAt = cur.ID, cur.CreatedAt
			break
		}
	}
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}
	cp := *sp
	putRow(ctx, s, s.servicePoints, sp.ID, &cp)
	return nil
}

// =========== Sections ===========

func (s *MemStore) FindSection(_ context.Context, branchID uuid.UUID, code string) (*Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sec := range s.sections {
		if sec.BranchID == branchID && sec.Code == code {
			cp := *sec
			return &cp, nil
		}
	}
	return nil, notFound(EntitySection, code)
}

func (s *MemStore) UpsertSection(ctx context.Context, sec *Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sec.CreatedAt, sec.UpdatedAt = now, now
	for _, cur := range s.sections {
		if cur.BranchID == sec.BranchID && cur.Code == sec.Code {
			sec.ID, sec.CreatedAt = cur.ID, cur.CreatedAt
			break
		}
	}
	if sec.ID == uuid.Nil {
		sec.ID = uuid.New()
	}
	cp := *sec
	putRow(ctx, s, s.sections, sec.ID, &cp)
	return nil
}

// =========== Categories ===========

func (s *MemStore) FindCategory(_ context.Context, branchID, sectionID uuid.UUID, code string) (*Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.categories {
		if c.BranchID == branchID && c.SectionID == sectionID && c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, notFound(EntityCategory, code)
}

func (s *MemStore) UpsertCategory(ctx context.Context, c *Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sections[c.SectionID]; !ok {
		return &UnknownReferenceError{Entity: EntitySection, Code: c.SectionID.String()}
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	for _, cur := range s.categories {
		if cur.BranchID == c.BranchID && cur.SectionID == c.SectionID && cur.Code == c.Code {
			c.ID, c.CreatedAt = cur.ID, cur.CreatedAt
			break
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	putRow(ctx, s, s.categories, c.ID, &cp)
	return nil
}

// =========== Specimens ===========

func (s *MemStore) FindSpecimen(_ context.Context, branchID uuid.UUID, code string) (*Specimen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sp := range s.specimens {
		if sp.BranchID == branchID && sp.Code == code {
			cp := *sp
			return &cp, nil
		}
	}
	return nil, notFound(EntitySpecimen, code)
}

func (s *MemStore) UpsertSpecimen(ctx context.Context, sp *Specimen) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sp.CreatedAt, sp.UpdatedAt = now, now
	for _, cur := range s.specimens {
		if cur.BranchID == sp.BranchID && cur.Code == sp.Code {
			sp.ID, sp.CreatedAt = cur.ID, cur.CreatedAt
			break
		}
	}
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}
	cp := *sp
	putRow(ctx, s, s.specimens, sp.ID, &cp)
	return nil
}

// =========== Items ===========

func (s *MemStore) FindItem(_ context.Context, branchID uuid.UUID, code string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.BranchID == branchID && it.Code == code {
			cp := *it
			return &cp, nil
		}
	}
	return nil, notFound(EntityItem, code)
}

func (s *MemStore) UpsertItem(ctx context.Context, it *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sections[it.SectionID]; !ok {
		return &UnknownReferenceError{Entity: EntitySection, Code: it.SectionID.String()}
	}
	now := s.now()
	it.CreatedAt, it.UpdatedAt = now, now
	for _, cur := range s.items {
		if cur.BranchID == it.BranchID && cur.Code == it.Code {
			it.ID, it.CreatedAt = cur.ID, cur.CreatedAt
			break
		}
	}
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	cp := *it
	putRow(ctx, s, s.items, it.ID, &cp)
	return nil
}

// =========== Panel items ===========

func (s *MemStore) DeactivatePanelItems(ctx context.Context, panelID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, pi := range s.panelItems {
		if k.panelID != panelID {
			continue
		}
		cp := *pi
		cp.Status = StatusInactive
		putRow(ctx, s, s.panelItems, k, &cp)
		n++
	}
	return n, nil
}

func (s *MemStore) UpsertPanelItem(ctx context.Context, pi *PanelItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pi.PanelID == pi.ItemID {
		return &InvalidReferenceError{Entity: EntityPanelItem, Code: pi.ItemID.String(), Reason: "a panel cannot contain itself"}
	}
	if _, ok := s.items[pi.ItemID]; !ok {
		return &UnknownReferenceError{Entity: EntityItem, Code: pi.ItemID.String()}
	}
	cp := *pi
	putRow(ctx, s, s.panelItems, panelKey{pi.PanelID, pi.ItemID}, &cp)
	return nil
}

// =========== Parameters ===========

func (s *MemStore) FindParameter(_ context.Context, testID uuid.UUID, code string) (*Parameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.parameters {
		if p.TestID == testID && p.Code == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, notFound(EntityParameter, code)
}

func (s *MemStore) UpsertParameter(ctx context.Context, p *Parameter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	for _, cur := range s.parameters {
		if cur.TestID == p.TestID && cur.Code == p.Code {
			p.ID, p.CreatedAt = cur.ID, cur.CreatedAt
			break
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	putRow(ctx, s, s.parameters, p.ID, &cp)
	return nil
}

// =========== Ranges and templates ===========

func (s *MemStore) CreateRange(ctx context.Context, r *Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = s.now()
	cp := *r
	putRow(ctx, s, s.ranges, r.ID, &cp)
	return nil
}

func (s *MemStore) CreateTemplate(ctx context.Context, t *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = s.now()
	cp := *t
	putRow(ctx, s, s.templates, t.ID, &cp)
	return nil
}

// =========== Capabilities ===========

func (s *MemStore) FindCapability(_ context.Context, servicePointID, itemID uuid.UUID) (*Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.capabilities {
		if c.ServicePointID == servicePointID && c.DiagnosticItemID == itemID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, notFound(EntityCapability, servicePointID.String()+"/"+itemID.String())
}

func (s *MemStore) UpsertCapability(ctx context.Context, c *Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servicePoints[c.ServicePointID]; !ok {
		return &UnknownReferenceError{Entity: EntityServicePoint, Code: c.ServicePointID.String()}
	}
	if _, ok := s.items[c.DiagnosticItemID]; !ok {
		return &UnknownReferenceError{Entity: EntityItem, Code: c.DiagnosticItemID.String()}
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	for _, cur := range s.capabilities {
		if cur.ServicePointID == c.ServicePointID && cur.DiagnosticItemID == c.DiagnosticItemID {
			c.ID, c.CreatedAt = cur.ID, cur.CreatedAt
			break
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	putRow(ctx, s, s.capabilities, c.ID, &cp)
	return nil
}

// =========== Capability allow-lists ===========

func (s *MemStore) ListAllowances(_ context.Context, entity Entity, capabilityID uuid.UUID) ([]Allowance, error) {
	if !entity.IsAllowList() {
		return nil, fmt.Errorf("%w: %q is not a capability allow-list", ErrInvalidValue, entity)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Allowance
	for _, a := range s.allowances {
		if a.Entity == entity && a.CapabilityID == capabilityID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RefID.String() < out[j].RefID.String()
	})
	return out, nil
}

func (s *MemStore) UpsertAllowance(ctx context.Context, a *Allowance) error {
	if !a.Entity.IsAllowList() {
		return fmt.Errorf("%w: %q is not a capability allow-list", ErrInvalidValue, a.Entity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.capabilities[a.CapabilityID]; !ok {
		return &UnknownReferenceError{Entity: EntityCapability, Code: a.CapabilityID.String()}
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	for _, cur := range s.allowances {
		if cur.Entity == a.Entity && cur.CapabilityID == a.CapabilityID && cur.RefID == a.RefID {
			a.ID, a.CreatedAt = cur.ID, cur.CreatedAt
			break
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	putRow(ctx, s, s.allowances, a.ID, &cp)
	return nil
}

// =========== Status ===========

// statusOf returns the status field of the stored row. Callers hold s.mu.
func (s *MemStore) statusOf(entity Entity, id uuid.UUID) (*Status, bool) {
	switch entity {
	case EntityServicePoint:
		if r, ok := s.servicePoints[id]; ok {
			return &r.Status, true
		}
	case EntitySection:
		if r, ok := s.sections[id]; ok {
			return &r.Status, true
		}
	case EntityCategory:
		if r, ok := s.categories[id]; ok {
			return &r.Status, true
		}
	case EntitySpecimen:
		if r, ok := s.specimens[id]; ok {
			return &r.Status, true
		}
	case EntityItem:
		if r, ok := s.items[id]; ok {
			return &r.Status, true
		}
	case EntityParameter:
		if r, ok := s.parameters[id]; ok {
			return &r.Status, true
		}
	case EntityRange:
		if r, ok := s.ranges[id]; ok {
			return &r.Status, true
		}
	case EntityTemplate:
		if r, ok := s.templates[id]; ok {
			return &r.Status, true
		}
	case EntityCapability:
		if r, ok := s.capabilities[id]; ok {
			return &r.Status, true
		}
	case EntityAllowedRoom, EntityAllowedResource, EntityAllowedEquipment:
		if r, ok := s.allowances[id]; ok && r.Entity == entity {
			return &r.Status, true
		}
	}
	return nil, false
}

func (s *MemStore) GetStatus(_ context.Context, entity Entity, id uuid.UUID) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statusOf(entity, id)
	if !ok {
		return "", notFound(entity, id.String())
	}
	return *st, nil
}

func (s *MemStore) SetStatus(ctx context.Context, entity Entity, id uuid.UUID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statusOf(entity, id)
	if !ok {
		return notFound(entity, id.String())
	}
	prev := *st
	*st = status
	s.record(ctx, func() { *st = prev })
	return nil
}

// =========== Readiness ===========

func (s *MemStore) ReadinessSnapshot(_ context.Context, branchID uuid.UUID) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spCaps := make(map[uuid.UUID]int)
	itemCaps := make(map[uuid.UUID]int)
	for _, c := range s.capabilities {
		if c.BranchID != branchID || !c.Status.IsActive() {
			continue
		}
		spCaps[c.ServicePointID]++
		itemCaps[c.DiagnosticItemID]++
	}
	children := make(map[uuid.UUID]int)
	for k, pi := range s.panelItems {
		if pi.Status.IsActive() {
			children[k.panelID]++
		}
	}
	params := make(map[uuid.UUID]int)
	for _, p := range s.parameters {
		if p.Status.IsActive() {
			params[p.TestID]++
		}
	}
	tmpls := make(map[uuid.UUID]int)
	for _, t := range s.templates {
		if t.Status.IsActive() {
			tmpls[t.ItemID]++
		}
	}

	snap := &Snapshot{BranchID: branchID}
	for _, sp := range s.servicePoints {
		if sp.BranchID != branchID || !sp.Status.IsActive() {
			continue
		}
		snap.ServicePoints = append(snap.ServicePoints, ServicePointStats{
			ID: sp.ID, Code: sp.Code, Name: sp.Name, SortOrder: sp.SortOrder,
			Capabilities: spCaps[sp.ID],
		})
	}
	for _, it := range s.items {
		if it.BranchID != branchID || !it.Status.IsActive() {
			continue
		}
		snap.Items = append(snap.Items, ItemStats{
			ID: it.ID, Code: it.Code, Name: it.Name, Kind: it.Kind, IsPanel: it.IsPanel,
			SortOrder:     it.SortOrder,
			PanelChildren: children[it.ID],
			Parameters:    params[it.ID],
			Templates:     tmpls[it.ID],
			Capabilities:  itemCaps[it.ID],
		})
	}

	sort.Slice(snap.ServicePoints, func(i, j int) bool {
		a, b := snap.ServicePoints[i], snap.ServicePoints[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.Code < b.Code
	})
	sort.Slice(snap.Items, func(i, j int) bool {
		a, b := snap.Items[i], snap.Items[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.Code < b.Code
	})
	return snap, nil
}
