package pack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/diagconfig/internal/domain/catalog"
)

// Payload is the configuration document stored on a PackVersion. Every *Code
// field is a raw code; the applier normalizes it before resolving.
type Payload struct {
	ServicePoints []ServicePointEntry `json:"servicePoints,omitempty"`
	Sections      []SectionEntry      `json:"sections,omitempty"`
	Categories    []CategoryEntry     `json:"categories,omitempty"`
	Specimens     []SpecimenEntry     `json:"specimens,omitempty"`
	Items         []ItemEntry         `json:"items,omitempty"`
	PanelItems    []PanelItemEntry    `json:"panelItems,omitempty"`
	Parameters    []ParameterEntry    `json:"parameters,omitempty"`
	Ranges        []RangeEntry        `json:"ranges,omitempty"`
	Templates     []TemplateEntry     `json:"templates,omitempty"`
	Capabilities  []CapabilityEntry   `json:"capabilities,omitempty"`
}

type ServicePointEntry struct {
	Code              string  `json:"code"`
	Name              string  `json:"name"`
	Type              *string `json:"type,omitempty"`
	SortOrder         *int    `json:"sortOrder,omitempty"`
	Notes             *string `json:"notes,omitempty"`
	RequiresPlacement *bool   `json:"requiresPlacement,omitempty"`
}

// NeedsPlacement reports whether applying the entry requires a location node.
func (e ServicePointEntry) NeedsPlacement() bool {
	return e.RequiresPlacement == nil || *e.RequiresPlacement
}

type SectionEntry struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	SortOrder *int   `json:"sortOrder,omitempty"`
}

type CategoryEntry struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	SectionCode string `json:"sectionCode"`
	SortOrder   *int   `json:"sortOrder,omitempty"`
}

type SpecimenEntry struct {
	Code          string           `json:"code"`
	Name          string           `json:"name"`
	Container     *string          `json:"container,omitempty"`
	MinVolumeMl   *decimal.Decimal `json:"minVolumeMl,omitempty"`
	HandlingNotes *string          `json:"handlingNotes,omitempty"`
	SortOrder     *int             `json:"sortOrder,omitempty"`
}

type ItemEntry struct {
	Code                string  `json:"code"`
	Name                string  `json:"name"`
	Kind                string  `json:"kind"`
	SectionCode         string  `json:"sectionCode"`
	CategoryCode        *string `json:"categoryCode,omitempty"`
	SpecimenCode        *string `json:"specimenCode,omitempty"`
	IsPanel             *bool   `json:"isPanel,omitempty"`
	TatMinsRoutine      *int    `json:"tatMinsRoutine,omitempty"`
	TatMinsStat         *int    `json:"tatMinsStat,omitempty"`
	RequiresAppointment *bool   `json:"requiresAppointment,omitempty"`
	ConsentRequired     *bool   `json:"consentRequired,omitempty"`
	PreparationText     *string `json:"preparationText,omitempty"`
	SortOrder           *int    `json:"sortOrder,omitempty"`
}

type PanelItemEntry struct {
	PanelCode string `json:"panelCode"`
	ItemCode  string `json:"itemCode"`
	SortOrder *int   `json:"sortOrder,omitempty"`
}

type ParameterEntry struct {
	ItemCode    string  `json:"itemCode"`
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	DataType    string  `json:"dataType"`
	Unit        *string `json:"unit,omitempty"`
	Precision   *int    `json:"precision,omitempty"`
	AllowedText *string `json:"allowedText,omitempty"`
	SortOrder   *int    `json:"sortOrder,omitempty"`
}

type RangeEntry struct {
	ItemCode      string           `json:"itemCode"`
	ParameterCode string           `json:"parameterCode"`
	Sex           *string          `json:"sex,omitempty"`
	AgeMinDays    *int             `json:"ageMinDays,omitempty"`
	AgeMaxDays    *int             `json:"ageMaxDays,omitempty"`
	Low           *decimal.Decimal `json:"low,omitempty"`
	High          *decimal.Decimal `json:"high,omitempty"`
	TextRange     *string          `json:"textRange,omitempty"`
	SortOrder     *int             `json:"sortOrder,omitempty"`
}

type TemplateEntry struct {
	ItemCode string  `json:"itemCode"`
	Kind     *string `json:"kind,omitempty"`
	Name     string  `json:"name"`
	Body     string  `json:"body"`
}

type CapabilityEntry struct {
	ServicePointCode    string  `json:"servicePointCode"`
	ItemCode            string  `json:"itemCode"`
	Modality            *string `json:"modality,omitempty"`
	DefaultDurationMins *int    `json:"defaultDurationMins,omitempty"`
	IsPrimary           *bool   `json:"isPrimary,omitempty"`

	// Allow-list entries are added to the capability; existing entries the
	// pack does not name are left alone.
	AllowedRoomIDs      []uuid.UUID `json:"allowedRoomIds,omitempty"`
	AllowedResourceIDs  []uuid.UUID `json:"allowedResourceIds,omitempty"`
	AllowedEquipmentIDs []uuid.UUID `json:"allowedEquipmentIds,omitempty"`
}

// allowLists pairs each allow-list of the entry with its entity.
func (e CapabilityEntry) allowLists() []struct {
	list catalog.Entity
	ids  []uuid.UUID
} {
	return []struct {
		list catalog.Entity
		ids  []uuid.UUID
	}{
		{catalog.EntityAllowedRoom, e.AllowedRoomIDs},
		{catalog.EntityAllowedResource, e.AllowedResourceIDs},
		{catalog.EntityAllowedEquipment, e.AllowedEquipmentIDs},
	}
}

// ParsePayload decodes a payload document. Unknown fields are rejected so a
// misspelled key fails loudly instead of being dropped.
func ParsePayload(data []byte) (*Payload, error) {
	var p Payload
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return &p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", catalog.ErrInvalidValue, err)
	}
	return &p, nil
}

// Placement binds a service point code to the location node it occupies in
// the target branch.
type Placement struct {
	ServicePointCode string    `json:"servicePointCode"`
	LocationNodeID   uuid.UUID `json:"locationNodeId"`
}

// Placements maps normalized service point codes to location nodes.
type Placements map[string]uuid.UUID

// NewPlacements normalizes the codes of ps. The same code placed on two
// different nodes is rejected.
func NewPlacements(ps []Placement) (Placements, error) {
	out := make(Placements, len(ps))
	for _, p := range ps {
		code, err := catalog.AssertCode(p.ServicePointCode, "Placement")
		if err != nil {
			return nil, err
		}
		if p.LocationNodeID == uuid.Nil {
			return nil, fmt.Errorf("%w: placement %s has no locationNodeId", catalog.ErrInvalidValue, code)
		}
		if prev, ok := out[code]; ok && prev != p.LocationNodeID {
			return nil, fmt.Errorf("%w: service point %s placed on two location nodes", catalog.ErrInvalidValue, code)
		}
		out[code] = p.LocationNodeID
	}
	return out, nil
}

// List returns the placements as a slice, ordered by code.
func (p Placements) List() []Placement {
	out := make([]Placement, 0, len(p))
	for code, node := range p {
		out = append(out, Placement{ServicePointCode: code, LocationNodeID: node})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServicePointCode < out[j].ServicePointCode })
	return out
}
