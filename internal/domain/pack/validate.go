package pack

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/diagconfig/internal/domain/catalog"
)

// MaxTemplateNameLength bounds template names, which run longer than other
// catalog names.
const MaxTemplateNameLength = 200

// Column widths of the free-text catalog fields.
const (
	MaxTypeLength      = 32
	MaxUnitLength      = 40
	MaxModalityLength  = 32
	MaxContainerLength = 120
	MaxSexLength       = 16
)

// Range bounds are NUMERIC(14,4) and specimen volumes NUMERIC(10,3).
var (
	rangeBoundLimit = decimal.New(1, 10)
	volumeLimit     = decimal.New(1, 7)
)

// Validate runs the pre-flight checks that need no catalog access: codes,
// names, enum fields and numeric bounds of every entry. It stops at the first
// failure.
func (p *Payload) Validate() error {
	for i, e := range p.ServicePoints {
		if err := validateServicePoint(e); err != nil {
			return fmt.Errorf("servicePoints[%d]: %w", i, err)
		}
	}
	for i, e := range p.Sections {
		if err := validateSection(e); err != nil {
			return fmt.Errorf("sections[%d]: %w", i, err)
		}
	}
	for i, e := range p.Categories {
		if err := validateCategory(e); err != nil {
			return fmt.Errorf("categories[%d]: %w", i, err)
		}
	}
	for i, e := range p.Specimens {
		if err := validateSpecimen(e); err != nil {
			return fmt.Errorf("specimens[%d]: %w", i, err)
		}
	}
	for i, e := range p.Items {
		if err := validateItem(e); err != nil {
			return fmt.Errorf("items[%d]: %w", i, err)
		}
	}
	for i, e := range p.PanelItems {
		if err := validatePanelItem(e); err != nil {
			return fmt.Errorf("panelItems[%d]: %w", i, err)
		}
	}
	for i, e := range p.Parameters {
		if err := validateParameter(e); err != nil {
			return fmt.Errorf("parameters[%d]: %w", i, err)
		}
	}
	for i, e := range p.Ranges {
		if err := validateRange(e); err != nil {
			return fmt.Errorf("ranges[%d]: %w", i, err)
		}
	}
	for i, e := range p.Templates {
		if err := validateTemplate(e); err != nil {
			return fmt.Errorf("templates[%d]: %w", i, err)
		}
	}
	for i, e := range p.Capabilities {
		if err := validateCapability(e); err != nil {
			return fmt.Errorf("capabilities[%d]: %w", i, err)
		}
	}
	return nil
}

// CheckPlacements fails with a MissingPlacementError for the first service
// point that needs a placement absent from pl.
func (p *Payload) CheckPlacements(pl Placements) error {
	for _, e := range p.ServicePoints {
		if !e.NeedsPlacement() {
			continue
		}
		code := catalog.NormalizeCode(e.Code)
		if _, ok := pl[code]; !ok {
			return &catalog.MissingPlacementError{Code: code}
		}
	}
	return nil
}

func codeAndName(code, name, label string) error {
	if err := catalog.ValidateCode(code, label); err != nil {
		return err
	}
	return catalog.ValidateName(name, label)
}

func refCode(code, label string) error {
	return catalog.ValidateCode(code, label)
}

func optionalRef(code *string, label string) error {
	if code == nil {
		return nil
	}
	return refCode(*code, label)
}

// nonNegative also holds v to the INTEGER column range.
func nonNegative(v *int, field string) error {
	if v == nil {
		return nil
	}
	if *v < 0 {
		return fmt.Errorf("%w: %s must not be negative", catalog.ErrInvalidValue, field)
	}
	if *v > math.MaxInt32 {
		return fmt.Errorf("%w: %s exceeds %d", catalog.ErrInvalidValue, field, math.MaxInt32)
	}
	return nil
}

func maxLength(v *string, field string, max int) error {
	if v != nil && utf8.RuneCountInString(*v) > max {
		return fmt.Errorf("%w: %s exceeds %d characters", catalog.ErrInvalidValue, field, max)
	}
	return nil
}

// fixedPoint checks that d fits a NUMERIC column with the given scale whose
// magnitude stays below limit.
func fixedPoint(d *decimal.Decimal, field string, scale int32, limit decimal.Decimal) error {
	if d == nil {
		return nil
	}
	if !d.Equal(d.Round(scale)) {
		return fmt.Errorf("%w: %s allows at most %d decimal places", catalog.ErrInvalidValue, field, scale)
	}
	if d.Abs().GreaterThanOrEqual(limit) {
		return fmt.Errorf("%w: %s must be below %s in magnitude", catalog.ErrInvalidValue, field, limit)
	}
	return nil
}

func validateServicePoint(e ServicePointEntry) error {
	if err := codeAndName(e.Code, e.Name, "Service point"); err != nil {
		return err
	}
	if e.Type != nil && strings.TrimSpace(*e.Type) == "" {
		return fmt.Errorf("%w: service point type must not be blank", catalog.ErrInvalidValue)
	}
	if err := maxLength(e.Type, "type", MaxTypeLength); err != nil {
		return err
	}
	return nonNegative(e.SortOrder, "sortOrder")
}

func validateSection(e SectionEntry) error {
	if err := codeAndName(e.Code, e.Name, "Section"); err != nil {
		return err
	}
	return nonNegative(e.SortOrder, "sortOrder")
}

func validateCategory(e CategoryEntry) error {
	if err := codeAndName(e.Code, e.Name, "Category"); err != nil {
		return err
	}
	if err := refCode(e.SectionCode, "Section"); err != nil {
		return err
	}
	return nonNegative(e.SortOrder, "sortOrder")
}

func validateSpecimen(e SpecimenEntry) error {
	if err := codeAndName(e.Code, e.Name, "Specimen"); err != nil {
		return err
	}
	if e.MinVolumeMl != nil && e.MinVolumeMl.IsNegative() {
		return fmt.Errorf("%w: minVolumeMl must not be negative", catalog.ErrInvalidValue)
	}
	if err := fixedPoint(e.MinVolumeMl, "minVolumeMl", 3, volumeLimit); err != nil {
		return err
	}
	if err := maxLength(e.Container, "container", MaxContainerLength); err != nil {
		return err
	}
	return nonNegative(e.SortOrder, "sortOrder")
}

func validateItem(e ItemEntry) error {
	if err := codeAndName(e.Code, e.Name, "Item"); err != nil {
		return err
	}
	kind, err := catalog.ParseItemKind(e.Kind)
	if err != nil {
		return err
	}
	if err := refCode(e.SectionCode, "Section"); err != nil {
		return err
	}
	if err := optionalRef(e.CategoryCode, "Category"); err != nil {
		return err
	}
	if err := optionalRef(e.SpecimenCode, "Specimen"); err != nil {
		return err
	}
	if e.SpecimenCode != nil && kind != catalog.KindLab {
		return fmt.Errorf("%w: specimenCode is only meaningful on LAB items", catalog.ErrInvalidValue)
	}
	if err := nonNegative(e.TatMinsRoutine, "tatMinsRoutine"); err != nil {
		return err
	}
	if err := nonNegative(e.TatMinsStat, "tatMinsStat"); err != nil {
		return err
	}
	return nonNegative(e.SortOrder, "sortOrder")
}

func validatePanelItem(e PanelItemEntry) error {
	if err := refCode(e.PanelCode, "Panel"); err != nil {
		return err
	}
	if err := refCode(e.ItemCode, "Item"); err != nil {
		return err
	}
	if code := catalog.NormalizeCode(e.ItemCode); code == catalog.NormalizeCode(e.PanelCode) {
		return &catalog.InvalidReferenceError{Entity: catalog.EntityPanelItem, Code: code, Reason: "a panel cannot contain itself"}
	}
	return nonNegative(e.SortOrder, "sortOrder")
}

func validateParameter(e ParameterEntry) error {
	if err := refCode(e.ItemCode, "Item"); err != nil {
		return err
	}
	if err := codeAndName(e.Code, e.Name, "Parameter"); err != nil {
		return err
	}
	if _, err := catalog.ParseDataType(e.DataType); err != nil {
		return err
	}
	if err := nonNegative(e.Precision, "precision"); err != nil {
		return err
	}
	if err := maxLength(e.Unit, "unit", MaxUnitLength); err != nil {
		return err
	}
	return nonNegative(e.SortOrder, "sortOrder")
}

func validateRange(e RangeEntry) error {
	if err := refCode(e.ItemCode, "Item"); err != nil {
		return err
	}
	if err := refCode(e.ParameterCode, "Parameter"); err != nil {
		return err
	}
	r := catalog.Range{AgeMinDays: e.AgeMinDays, AgeMaxDays: e.AgeMaxDays, Low: e.Low, High: e.High}
	if err := r.Validate(); err != nil {
		return err
	}
	if err := nonNegative(e.AgeMinDays, "ageMinDays"); err != nil {
		return err
	}
	if err := nonNegative(e.AgeMaxDays, "ageMaxDays"); err != nil {
		return err
	}
	if err := fixedPoint(e.Low, "low", 4, rangeBoundLimit); err != nil {
		return err
	}
	if err := fixedPoint(e.High, "high", 4, rangeBoundLimit); err != nil {
		return err
	}
	if err := maxLength(e.Sex, "sex", MaxSexLength); err != nil {
		return err
	}
	return nonNegative(e.SortOrder, "sortOrder")
}

func validateTemplate(e TemplateEntry) error {
	if err := refCode(e.ItemCode, "Item"); err != nil {
		return err
	}
	if _, err := catalog.AssertNameMax(e.Name, "Template", MaxTemplateNameLength); err != nil {
		return err
	}
	if e.Kind != nil {
		if _, err := catalog.ParseTemplateKind(*e.Kind); err != nil {
			return err
		}
	}
	return nil
}

func validateCapability(e CapabilityEntry) error {
	if err := refCode(e.ServicePointCode, "Service point"); err != nil {
		return err
	}
	if err := refCode(e.ItemCode, "Item"); err != nil {
		return err
	}
	if err := maxLength(e.Modality, "modality", MaxModalityLength); err != nil {
		return err
	}
	for _, al := range e.allowLists() {
		for _, id := range al.ids {
			if id == uuid.Nil {
				return fmt.Errorf("%w: %s entries must be non-nil ids", catalog.ErrInvalidValue, al.list)
			}
		}
	}
	return nonNegative(e.DefaultDurationMins, "defaultDurationMins")
}
