package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// allowListSegments maps the URL segment of each allow-list to its entity.
var allowListSegments = map[string]Entity{
	"rooms":     EntityAllowedRoom,
	"resources": EntityAllowedResource,
	"equipment": EntityAllowedEquipment,
}

// ParseAllowList resolves a URL segment (rooms, resources or equipment).
func ParseAllowList(segment string) (Entity, error) {
	e, ok := allowListSegments[segment]
	if !ok {
		return "", fmt.Errorf("%w: allow-list %q must be rooms, resources or equipment", ErrInvalidValue, segment)
	}
	return e, nil
}

type allowListStore interface {
	AllowanceRepository
	StatusRepository
}

// AllowListService maintains the room, resource and equipment allow-lists of
// capabilities.
type AllowListService struct {
	repo allowListStore
}

func NewAllowListService(repo allowListStore) *AllowListService {
	return &AllowListService{repo: repo}
}

func (s *AllowListService) List(ctx context.Context, list Entity, capabilityID uuid.UUID) ([]Allowance, error) {
	if !list.IsAllowList() {
		return nil, fmt.Errorf("%w: %q is not a capability allow-list", ErrInvalidValue, list)
	}
	return s.repo.ListAllowances(ctx, list, capabilityID)
}

// Add allows refID on the capability. Adding a removed entry reactivates it.
func (s *AllowListService) Add(ctx context.Context, list Entity, capabilityID, refID uuid.UUID) (*Allowance, error) {
	if !list.IsAllowList() {
		return nil, fmt.Errorf("%w: %q is not a capability allow-list", ErrInvalidValue, list)
	}
	if refID == uuid.Nil {
		return nil, fmt.Errorf("%w: refId is required", ErrInvalidValue)
	}
	a := &Allowance{CapabilityID: capabilityID, Entity: list, RefID: refID, Status: StatusActive}
	if err := s.repo.UpsertAllowance(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Remove deactivates the allow-list row linkID of the capability.
func (s *AllowListService) Remove(ctx context.Context, list Entity, capabilityID, linkID uuid.UUID) error {
	rows, err := s.List(ctx, list, capabilityID)
	if err != nil {
		return err
	}
	for _, a := range rows {
		if a.ID != linkID {
			continue
		}
		if !a.Status.IsActive() {
			return nil
		}
		return s.repo.SetStatus(ctx, list, linkID, StatusInactive)
	}
	return fmt.Errorf("%s %s on capability %s: %w", list, linkID, capabilityID, ErrNotFound)
}
