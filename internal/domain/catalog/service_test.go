package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type mockStatusRepo struct {
	statuses map[uuid.UUID]Status
	sets     int
	setErr   error
}

func newMockStatusRepo() *mockStatusRepo {
	return &mockStatusRepo{statuses: make(map[uuid.UUID]Status)}
}

func (m *mockStatusRepo) GetStatus(_ context.Context, entity Entity, id uuid.UUID) (Status, error) {
	st, ok := m.statuses[id]
	if !ok {
		return "", notFound(entity, id.String())
	}
	return st, nil
}

func (m *mockStatusRepo) SetStatus(_ context.Context, _ Entity, id uuid.UUID, status Status) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.sets++
	m.statuses[id] = status
	return nil
}

func TestStatusService_Deactivate(t *testing.T) {
	repo := newMockStatusRepo()
	svc := NewStatusService(repo)
	id := uuid.New()
	repo.statuses[id] = StatusActive

	changed, err := svc.ChangeStatus(context.Background(), EntityItem, id, StatusInactive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("expected change to be reported")
	}
	if repo.statuses[id] != StatusInactive {
		t.Errorf("expected INACTIVE, got %s", repo.statuses[id])
	}
}

func TestStatusService_SameStatusIsNoop(t *testing.T) {
	repo := newMockStatusRepo()
	svc := NewStatusService(repo)
	id := uuid.New()
	repo.statuses[id] = StatusInactive

	changed, err := svc.ChangeStatus(context.Background(), EntitySection, id, StatusInactive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Error("expected no change")
	}
	if repo.sets != 0 {
		t.Errorf("expected no writes, got %d", repo.sets)
	}
}

func TestStatusService_Rejects(t *testing.T) {
	repo := newMockStatusRepo()
	svc := NewStatusService(repo)
	id := uuid.New()
	repo.statuses[id] = StatusActive

	tests := []struct {
		name   string
		entity Entity
		id     uuid.UUID
		to     Status
		want   error
	}{
		{"panel items are not addressable", EntityPanelItem, id, StatusInactive, ErrInvalidValue},
		{"unknown entity", Entity("orders"), id, StatusInactive, ErrInvalidValue},
		{"bad status", EntityItem, id, Status("DELETED"), ErrInvalidValue},
		{"missing row", EntityItem, uuid.New(), StatusInactive, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ChangeStatus(context.Background(), tt.entity, tt.id, tt.to)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if repo.sets != 0 {
		t.Errorf("expected no writes, got %d", repo.sets)
	}
}

func TestStatusService_SetError(t *testing.T) {
	repo := newMockStatusRepo()
	repo.setErr = ErrStoreUnavailable
	svc := NewStatusService(repo)
	id := uuid.New()
	repo.statuses[id] = StatusActive

	if _, err := svc.ChangeStatus(context.Background(), EntityCapability, id, StatusInactive); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}
