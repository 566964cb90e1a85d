package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Find* methods return ErrNotFound when no row matches. Upsert* methods
// create or update by the entity's natural key and set the entity's ID to the
// stored row's id.

type ServicePointRepository interface {
	FindServicePoint(ctx context.Context, branchID uuid.UUID, code string) (*ServicePoint, error)
	UpsertServicePoint(ctx context.Context, sp *ServicePoint) error
}

type SectionRepository interface {
	FindSection(ctx context.Context, branchID uuid.UUID, code string) (*Section, error)
	UpsertSection(ctx context.Context, s *Section) error
}

type CategoryRepository interface {
	FindCategory(ctx context.Context, branchID, sectionID uuid.UUID, code string) (*Category, error)
	UpsertCategory(ctx context.Context, c *Category) error
}

type SpecimenRepository interface {
	FindSpecimen(ctx context.Context, branchID uuid.UUID, code string) (*Specimen, error)
	UpsertSpecimen(ctx context.Context, s *Specimen) error
}

type ItemRepository interface {
	FindItem(ctx context.Context, branchID uuid.UUID, code string) (*Item, error)
	UpsertItem(ctx context.Context, i *Item) error
}

type PanelItemRepository interface {
	// DeactivatePanelItems sets every composition edge of the panel INACTIVE
	// and returns how many rows it touched.
	DeactivatePanelItems(ctx context.Context, panelID uuid.UUID) (int, error)
	UpsertPanelItem(ctx context.Context, pi *PanelItem) error
}

type ParameterRepository interface {
	FindParameter(ctx context.Context, testID uuid.UUID, code string) (*Parameter, error)
	UpsertParameter(ctx context.Context, p *Parameter) error
}

// RangeRepository and TemplateRepository are append-only: these rows have no
// natural key to upsert on.
type RangeRepository interface {
	CreateRange(ctx context.Context, r *Range) error
}

type TemplateRepository interface {
	CreateTemplate(ctx context.Context, t *Template) error
}

type CapabilityRepository interface {
	FindCapability(ctx context.Context, servicePointID, itemID uuid.UUID) (*Capability, error)
	UpsertCapability(ctx context.Context, c *Capability) error
}

// AllowanceRepository stores capability allow-lists. Rows are keyed by
// (capability, list, reference) and removal is a status change.
type AllowanceRepository interface {
	ListAllowances(ctx context.Context, entity Entity, capabilityID uuid.UUID) ([]Allowance, error)
	UpsertAllowance(ctx context.Context, a *Allowance) error
}

// StatusRepository moves single rows through the ACTIVE/INACTIVE lifecycle.
type StatusRepository interface {
	GetStatus(ctx context.Context, entity Entity, id uuid.UUID) (Status, error)
	SetStatus(ctx context.Context, entity Entity, id uuid.UUID, status Status) error
}

// Store is the catalog persistence contract consumed by the pack applier, the
// readiness analyzer and the status service.
type Store interface {
	ServicePointRepository
	SectionRepository
	CategoryRepository
	SpecimenRepository
	ItemRepository
	PanelItemRepository
	ParameterRepository
	RangeRepository
	TemplateRepository
	CapabilityRepository
	AllowanceRepository
	StatusRepository

	// WithinBranch runs fn with writes to branchID serialized against other
	// WithinBranch calls for the same branch. When fn returns an error none of
	// its writes persist. Store calls made by fn must use the ctx passed to it.
	WithinBranch(ctx context.Context, branchID uuid.UUID, fn func(ctx context.Context) error) error

	// ReadinessSnapshot loads the active service points and items of a branch
	// with their active relation counts.
	ReadinessSnapshot(ctx context.Context, branchID uuid.UUID) (*Snapshot, error)
}
