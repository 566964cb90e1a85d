package pack

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/ehr/diagconfig/internal/domain/catalog"
)

// Pack is the branch-independent identity of a configuration bundle.
type Pack struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	LabType     *string   `db:"lab_type" json:"labType,omitempty"`
	Description *string   `db:"description" json:"description,omitempty"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// VersionStatus is the lifecycle of a PackVersion.
type VersionStatus string

const (
	VersionDraft   VersionStatus = "DRAFT"
	VersionActive  VersionStatus = "ACTIVE"
	VersionRetired VersionStatus = "RETIRED"
)

var versionTransitions = map[VersionStatus][]VersionStatus{
	VersionDraft:   {VersionActive, VersionRetired},
	VersionActive:  {VersionRetired},
	VersionRetired: {VersionActive},
}

func (s VersionStatus) Valid() bool {
	_, ok := versionTransitions[s]
	return ok
}

func ParseVersionStatus(s string) (VersionStatus, error) {
	v := VersionStatus(s)
	if !v.Valid() {
		return "", fmt.Errorf("%w: version status %q must be DRAFT, ACTIVE or RETIRED", catalog.ErrInvalidValue, s)
	}
	return v, nil
}

// ValidateVersionTransition checks a lifecycle move between two different
// statuses.
func ValidateVersionTransition(from, to VersionStatus) error {
	for _, s := range versionTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: pack version %s -> %s", catalog.ErrInvalidTransition, from, to)
}

// PackVersion is an immutable-once-applied payload snapshot of a Pack.
type PackVersion struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	PackID    uuid.UUID       `db:"pack_id" json:"packId"`
	Version   int             `db:"version" json:"version"`
	Status    VersionStatus   `db:"status" json:"status"`
	Notes     *string         `db:"notes" json:"notes,omitempty"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// PackApplication is the audit record of one successful apply.
type PackApplication struct {
	ID            ulid.ULID   `db:"id" json:"id"`
	PackID        uuid.UUID   `db:"pack_id" json:"packId"`
	PackVersionID uuid.UUID   `db:"pack_version_id" json:"packVersionId"`
	BranchID      uuid.UUID   `db:"branch_id" json:"branchId"`
	Placements    []Placement `db:"placements" json:"placements"`
	Summary       Summary     `db:"summary" json:"summary"`
	AppliedBy     *string     `db:"applied_by" json:"appliedBy,omitempty"`
	AppliedAt     time.Time   `db:"applied_at" json:"appliedAt"`
}

// PackFilter narrows ListPacks.
type PackFilter struct {
	IncludeInactive bool
	LabType         string
}
