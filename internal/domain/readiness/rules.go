package readiness

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/diagconfig/internal/domain/catalog"
)

type Severity string

const (
	SeverityBlocker Severity = "blocker"
	SeverityWarn    Severity = "warn"
)

// FixKind names the editor a client should open to resolve an issue.
type FixKind string

const (
	FixServicePoint FixKind = "SERVICE_POINT"
	FixCatalog      FixKind = "CATALOG"
	FixPanel        FixKind = "PANEL"
	FixLabParams    FixKind = "LAB_PARAMS"
	FixTemplates    FixKind = "TEMPLATES"
	FixCapability   FixKind = "CAPABILITY"
)

// Fix points at the entity to edit. Only the ids the target editor needs
// are set.
type Fix struct {
	Kind           FixKind    `json:"kind"`
	ItemID         *uuid.UUID `json:"itemId,omitempty"`
	PanelID        *uuid.UUID `json:"panelId,omitempty"`
	ServicePointID *uuid.UUID `json:"servicePointId,omitempty"`
}

type Issue struct {
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Detail   string   `json:"detail"`
	Fix      Fix      `json:"fix"`
}

// Rule inspects a branch snapshot and reports zero or more issues. Rules are
// independent of each other.
type Rule interface {
	Name() string
	Evaluate(snap *catalog.Snapshot) []Issue
}

type ruleFunc struct {
	name string
	eval func(snap *catalog.Snapshot) []Issue
}

func (r ruleFunc) Name() string                            { return r.name }
func (r ruleFunc) Evaluate(snap *catalog.Snapshot) []Issue { return r.eval(snap) }

// DefaultRules returns the go-live rule set in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		ruleFunc{"service_points_present", servicePointsPresent},
		ruleFunc{"items_present", itemsPresent},
		ruleFunc{"panel_composition", panelComposition},
		ruleFunc{"lab_parameters", labParameters},
		ruleFunc{"lab_templates", labTemplates},
		ruleFunc{"report_templates", reportTemplates},
		ruleFunc{"item_capabilities", itemCapabilities},
		ruleFunc{"service_point_capabilities", servicePointCapabilities},
	}
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func label(name, code string) string {
	return fmt.Sprintf("%s (%s)", name, code)
}

func servicePointsPresent(snap *catalog.Snapshot) []Issue {
	if len(snap.ServicePoints) > 0 {
		return nil
	}
	return []Issue{{
		Severity: SeverityBlocker,
		Title:    "No service points",
		Detail:   "The branch has no active service point, so no diagnostic order can be routed.",
		Fix:      Fix{Kind: FixServicePoint},
	}}
}

func itemsPresent(snap *catalog.Snapshot) []Issue {
	for _, it := range snap.Items {
		if !it.IsPanel {
			return nil
		}
	}
	return []Issue{{
		Severity: SeverityBlocker,
		Title:    "No diagnostic items",
		Detail:   "The branch has no active orderable test or procedure.",
		Fix:      Fix{Kind: FixCatalog},
	}}
}

func panelComposition(snap *catalog.Snapshot) []Issue {
	var out []Issue
	for _, it := range snap.Items {
		if !it.IsPanel || it.PanelChildren > 0 {
			continue
		}
		out = append(out, Issue{
			Severity: SeverityBlocker,
			Title:    "Empty panel",
			Detail:   fmt.Sprintf("Panel %s has no active component items.", label(it.Name, it.Code)),
			Fix:      Fix{Kind: FixPanel, PanelID: ptr(it.ID)},
		})
	}
	return out
}

func labParameters(snap *catalog.Snapshot) []Issue {
	var out []Issue
	for _, it := range snap.Items {
		if it.IsPanel || it.Kind != catalog.KindLab || it.Parameters > 0 {
			continue
		}
		out = append(out, Issue{
			Severity: SeverityBlocker,
			Title:    "Lab test has no parameters",
			Detail:   fmt.Sprintf("%s has no result parameters, so results cannot be entered.", label(it.Name, it.Code)),
			Fix:      Fix{Kind: FixLabParams, ItemID: ptr(it.ID)},
		})
	}
	return out
}

func labTemplates(snap *catalog.Snapshot) []Issue {
	var out []Issue
	for _, it := range snap.Items {
		if it.IsPanel || it.Kind != catalog.KindLab || it.Templates > 0 {
			continue
		}
		out = append(out, Issue{
			Severity: SeverityWarn,
			Title:    "Lab test has no report template",
			Detail:   fmt.Sprintf("%s will be reported with the default lab layout.", label(it.Name, it.Code)),
			Fix:      Fix{Kind: FixTemplates, ItemID: ptr(it.ID)},
		})
	}
	return out
}

func reportTemplates(snap *catalog.Snapshot) []Issue {
	var out []Issue
	for _, it := range snap.Items {
		if it.IsPanel || it.Kind == catalog.KindLab || it.Templates > 0 {
			continue
		}
		out = append(out, Issue{
			Severity: SeverityBlocker,
			Title:    "Item has no report template",
			Detail:   fmt.Sprintf("%s item %s has no report template and no default exists.", it.Kind, label(it.Name, it.Code)),
			Fix:      Fix{Kind: FixTemplates, ItemID: ptr(it.ID)},
		})
	}
	return out
}

func itemCapabilities(snap *catalog.Snapshot) []Issue {
	var out []Issue
	for _, it := range snap.Items {
		if it.IsPanel || it.Capabilities > 0 {
			continue
		}
		out = append(out, Issue{
			Severity: SeverityBlocker,
			Title:    "Item cannot be routed",
			Detail:   fmt.Sprintf("No service point can perform %s.", label(it.Name, it.Code)),
			Fix:      Fix{Kind: FixCapability, ItemID: ptr(it.ID)},
		})
	}
	return out
}

func servicePointCapabilities(snap *catalog.Snapshot) []Issue {
	var out []Issue
	for _, sp := range snap.ServicePoints {
		if sp.Capabilities > 0 {
			continue
		}
		out = append(out, Issue{
			Severity: SeverityWarn,
			Title:    "Service point has no capabilities",
			Detail:   fmt.Sprintf("Service point %s is not mapped to any item.", label(sp.Name, sp.Code)),
			Fix:      Fix{Kind: FixCapability, ServicePointID: ptr(sp.ID)},
		})
	}
	return out
}
