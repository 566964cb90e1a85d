package catalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemKind classifies a diagnostic item.
type ItemKind string

const (
	KindLab       ItemKind = "LAB"
	KindImaging   ItemKind = "IMAGING"
	KindProcedure ItemKind = "PROCEDURE"
)

func ParseItemKind(s string) (ItemKind, error) {
	switch k := ItemKind(s); k {
	case KindLab, KindImaging, KindProcedure:
		return k, nil
	}
	return "", fmt.Errorf("%w: item kind %q must be LAB, IMAGING or PROCEDURE", ErrInvalidValue, s)
}

// DataType is the result shape of a parameter.
type DataType string

const (
	DataNumeric DataType = "NUMERIC"
	DataText    DataType = "TEXT"
	DataChoice  DataType = "CHOICE"
	DataBoolean DataType = "BOOLEAN"
)

func ParseDataType(s string) (DataType, error) {
	switch d := DataType(s); d {
	case DataNumeric, DataText, DataChoice, DataBoolean:
		return d, nil
	}
	return "", fmt.Errorf("%w: data type %q must be NUMERIC, TEXT, CHOICE or BOOLEAN", ErrInvalidValue, s)
}

// TemplateKind is the report format a template renders.
type TemplateKind string

const (
	TemplateImagingReport TemplateKind = "IMAGING_REPORT"
	TemplateLabReport     TemplateKind = "LAB_REPORT"
)

func ParseTemplateKind(s string) (TemplateKind, error) {
	switch k := TemplateKind(s); k {
	case TemplateImagingReport, TemplateLabReport:
		return k, nil
	}
	return "", fmt.Errorf("%w: template kind %q must be IMAGING_REPORT or LAB_REPORT", ErrInvalidValue, s)
}

// DefaultTemplateKind is the kind assumed for a template on an item of kind k.
func DefaultTemplateKind(k ItemKind) TemplateKind {
	if k == KindLab {
		return TemplateLabReport
	}
	return TemplateImagingReport
}

// DefaultServicePointType is stored when a service point is created without a type.
const DefaultServicePointType = "OTHER"

// ServicePoint is a place where diagnostics are performed, bound to a
// location-tree node. LocationNodeID is nil only for service points a pack
// declared as not requiring placement.
type ServicePoint struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	BranchID       uuid.UUID  `db:"branch_id" json:"branchId"`
	LocationNodeID *uuid.UUID `db:"location_node_id" json:"locationNodeId"`
	UnitID         *uuid.UUID `db:"unit_id" json:"unitId,omitempty"`
	Code           string     `db:"code" json:"code"`
	Name           string     `db:"name" json:"name"`
	Type           string     `db:"type" json:"type"`
	SortOrder      int        `db:"sort_order" json:"sortOrder"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	Status         Status     `db:"status" json:"status"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

type Section struct {
	ID        uuid.UUID `db:"id" json:"id"`
	BranchID  uuid.UUID `db:"branch_id" json:"branchId"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	SortOrder int       `db:"sort_order" json:"sortOrder"`
	Status    Status    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Category belongs to exactly one Section; its code is unique per section.
type Category struct {
	ID        uuid.UUID `db:"id" json:"id"`
	BranchID  uuid.UUID `db:"branch_id" json:"branchId"`
	SectionID uuid.UUID `db:"section_id" json:"sectionId"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	SortOrder int       `db:"sort_order" json:"sortOrder"`
	Status    Status    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type Specimen struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	BranchID      uuid.UUID        `db:"branch_id" json:"branchId"`
	Code          string           `db:"code" json:"code"`
	Name          string           `db:"name" json:"name"`
	Container     *string          `db:"container" json:"container,omitempty"`
	MinVolumeMl   *decimal.Decimal `db:"min_volume_ml" json:"minVolumeMl,omitempty"`
	HandlingNotes *string          `db:"handling_notes" json:"handlingNotes,omitempty"`
	SortOrder     int              `db:"sort_order" json:"sortOrder"`
	Status        Status           `db:"status" json:"status"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updatedAt"`
}

// Item is an orderable diagnostic test. Panels (IsPanel) carry no result
// schema of their own and compose other items through PanelItem rows.
type Item struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	BranchID            uuid.UUID  `db:"branch_id" json:"branchId"`
	Code                string     `db:"code" json:"code"`
	Name                string     `db:"name" json:"name"`
	Kind                ItemKind   `db:"kind" json:"kind"`
	SectionID           uuid.UUID  `db:"section_id" json:"sectionId"`
	CategoryID          *uuid.UUID `db:"category_id" json:"categoryId,omitempty"`
	SpecimenID          *uuid.UUID `db:"specimen_id" json:"specimenId,omitempty"`
	IsPanel             bool       `db:"is_panel" json:"isPanel"`
	TatMinsRoutine      *int       `db:"tat_mins_routine" json:"tatMinsRoutine,omitempty"`
	TatMinsStat         *int       `db:"tat_mins_stat" json:"tatMinsStat,omitempty"`
	PreparationText     *string    `db:"preparation_text" json:"preparationText,omitempty"`
	ConsentRequired     bool       `db:"consent_required" json:"consentRequired"`
	RequiresAppointment bool       `db:"requires_appointment" json:"requiresAppointment"`
	SortOrder           int        `db:"sort_order" json:"sortOrder"`
	Status              Status     `db:"status" json:"status"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updatedAt"`
}

// IsLabTest reports whether the item is a non-panel LAB item, the only kind
// that may own parameters.
func (i *Item) IsLabTest() bool { return i.Kind == KindLab && !i.IsPanel }

// PanelItem is the composition edge between a panel and one of its children.
type PanelItem struct {
	PanelID   uuid.UUID `db:"panel_id" json:"panelId"`
	ItemID    uuid.UUID `db:"item_id" json:"itemId"`
	SortOrder int       `db:"sort_order" json:"sortOrder"`
	Status    Status    `db:"status" json:"status"`
}

// Parameter defines one result field of a LAB item. TestID is the item id.
type Parameter struct {
	ID          uuid.UUID `db:"id" json:"id"`
	TestID      uuid.UUID `db:"test_id" json:"testId"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	DataType    DataType  `db:"data_type" json:"dataType"`
	Unit        *string   `db:"unit" json:"unit,omitempty"`
	Precision   *int      `db:"precision" json:"precision,omitempty"`
	AllowedText *string   `db:"allowed_text" json:"allowedText,omitempty"`
	SortOrder   int       `db:"sort_order" json:"sortOrder"`
	Status      Status    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Range is a reference interval for a parameter, scoped by sex and age band.
type Range struct {
	ID          uuid.UUID        `db:"id" json:"id"`
	ParameterID uuid.UUID        `db:"parameter_id" json:"parameterId"`
	Sex         *string          `db:"sex" json:"sex,omitempty"`
	AgeMinDays  *int             `db:"age_min_days" json:"ageMinDays,omitempty"`
	AgeMaxDays  *int             `db:"age_max_days" json:"ageMaxDays,omitempty"`
	Low         *decimal.Decimal `db:"low" json:"low,omitempty"`
	High        *decimal.Decimal `db:"high" json:"high,omitempty"`
	TextRange   *string          `db:"text_range" json:"textRange,omitempty"`
	SortOrder   int              `db:"sort_order" json:"sortOrder"`
	Status      Status           `db:"status" json:"status"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
}

// Validate checks that the bounds of the interval are not inverted.
func (r *Range) Validate() error {
	if r.AgeMinDays != nil && *r.AgeMinDays < 0 {
		return fmt.Errorf("%w: ageMinDays must not be negative", ErrInvalidValue)
	}
	if r.AgeMinDays != nil && r.AgeMaxDays != nil && *r.AgeMinDays > *r.AgeMaxDays {
		return fmt.Errorf("%w: ageMinDays %d exceeds ageMaxDays %d", ErrInvalidValue, *r.AgeMinDays, *r.AgeMaxDays)
	}
	if r.Low != nil && r.High != nil && r.Low.GreaterThan(*r.High) {
		return fmt.Errorf("%w: low %s exceeds high %s", ErrInvalidValue, r.Low, r.High)
	}
	return nil
}

type Template struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	ItemID    uuid.UUID    `db:"item_id" json:"itemId"`
	Kind      TemplateKind `db:"kind" json:"kind"`
	Name      string       `db:"name" json:"name"`
	Body      string       `db:"body" json:"body"`
	Status    Status       `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
}

// Capability is the routing edge declaring that a service point can fulfill
// a diagnostic item.
type Capability struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	BranchID            uuid.UUID `db:"branch_id" json:"branchId"`
	ServicePointID      uuid.UUID `db:"service_point_id" json:"servicePointId"`
	DiagnosticItemID    uuid.UUID `db:"diagnostic_item_id" json:"diagnosticItemId"`
	Modality            *string   `db:"modality" json:"modality,omitempty"`
	DefaultDurationMins *int      `db:"default_duration_mins" json:"defaultDurationMins,omitempty"`
	IsPrimary           bool      `db:"is_primary" json:"isPrimary"`
	Status              Status    `db:"status" json:"status"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time `db:"updated_at" json:"updatedAt"`
}

// Allowance is one row of a capability allow-list. Entity says which list
// (rooms, resources or equipment) and RefID names the allowed room, resource
// or equipment unit. A capability with no active rows of a kind is
// unconstrained for that kind.
type Allowance struct {
	ID           uuid.UUID `json:"id"`
	CapabilityID uuid.UUID `json:"capabilityId"`
	Entity       Entity    `json:"kind"`
	RefID        uuid.UUID `json:"refId"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Snapshot is the read model the readiness analyzer evaluates. Every count
// covers ACTIVE rows only.
type Snapshot struct {
	BranchID      uuid.UUID
	ServicePoints []ServicePointStats
	Items         []ItemStats
}

type ServicePointStats struct {
	ID           uuid.UUID
	Code         string
	Name         string
	SortOrder    int
	Capabilities int
}

type ItemStats struct {
	ID            uuid.UUID
	Code          string
	Name          string
	Kind          ItemKind
	IsPanel       bool
	SortOrder     int
	PanelChildren int
	Parameters    int
	Templates     int
	Capabilities  int
}
