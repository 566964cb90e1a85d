package catalog

import "fmt"

// Status is the soft lifecycle of every catalog row. Rows are never deleted;
// removal is a transition to StatusInactive.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

var statusTransitions = map[Status][]Status{
	StatusActive:   {StatusInactive},
	StatusInactive: {StatusActive},
}

func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

func (s Status) IsActive() bool { return s == StatusActive }

// ValidateStatusTransition checks a lifecycle move. Staying in the same
// status is not a transition and is rejected here; callers treat it as a no-op.
func ValidateStatusTransition(from, to Status) error {
	allowed, ok := statusTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown from-status %q", ErrInvalidTransition, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Entity names a catalog entity type. It doubles as the URL segment of the
// status endpoint and as the Kind of reference errors.
type Entity string

const (
	EntityServicePoint Entity = "service-points"
	EntitySection      Entity = "sections"
	EntityCategory     Entity = "categories"
	EntitySpecimen     Entity = "specimens"
	EntityItem         Entity = "items"
	EntityPanelItem    Entity = "panel-items"
	EntityParameter    Entity = "parameters"
	EntityRange        Entity = "ranges"
	EntityTemplate     Entity = "templates"
	EntityCapability   Entity = "capabilities"

	EntityAllowedRoom      Entity = "capability-rooms"
	EntityAllowedResource  Entity = "capability-resources"
	EntityAllowedEquipment Entity = "capability-equipment"
)

var statusEntities = map[Entity]bool{
	EntityServicePoint: true,
	EntitySection:      true,
	EntityCategory:     true,
	EntitySpecimen:     true,
	EntityItem:         true,
	EntityParameter:    true,
	EntityRange:        true,
	EntityTemplate:     true,
	EntityCapability:   true,

	EntityAllowedRoom:      true,
	EntityAllowedResource:  true,
	EntityAllowedEquipment: true,
}

// HasStatusByID reports whether rows of e are addressable by their own id for
// lifecycle changes. Panel items are keyed by (panelId, itemId) instead.
func (e Entity) HasStatusByID() bool { return statusEntities[e] }

// IsAllowList reports whether e is one of the capability allow-lists.
func (e Entity) IsAllowList() bool {
	switch e {
	case EntityAllowedRoom, EntityAllowedResource, EntityAllowedEquipment:
		return true
	}
	return false
}
