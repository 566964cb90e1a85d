package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// StatusService applies soft lifecycle changes to single catalog rows.
type StatusService struct {
	repo StatusRepository
}

func NewStatusService(repo StatusRepository) *StatusService {
	return &StatusService{repo: repo}
}

// ChangeStatus moves the row to status and reports whether anything changed.
// Requesting the current status is a no-op.
func (s *StatusService) ChangeStatus(ctx context.Context, entity Entity, id uuid.UUID, to Status) (bool, error) {
	if !entity.HasStatusByID() {
		return false, fmt.Errorf("%w: unknown catalog entity %q", ErrInvalidValue, entity)
	}
	if !to.Valid() {
		return false, fmt.Errorf("%w: status %q must be ACTIVE or INACTIVE", ErrInvalidValue, to)
	}
	from, err := s.repo.GetStatus(ctx, entity, id)
	if err != nil {
		return false, err
	}
	if from == to {
		return false, nil
	}
	if err := ValidateStatusTransition(from, to); err != nil {
		return false, err
	}
	if err := s.repo.SetStatus(ctx, entity, id, to); err != nil {
		return false, err
	}
	return true, nil
}
