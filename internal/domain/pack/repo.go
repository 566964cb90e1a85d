package pack

import (
	"context"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Get* methods return catalog.ErrNotFound when no row matches.

type PackRepository interface {
	CreatePack(ctx context.Context, p *Pack) error
	GetPack(ctx context.Context, id uuid.UUID) (*Pack, error)
	UpdatePack(ctx context.Context, p *Pack) error
	ListPacks(ctx context.Context, f PackFilter, limit, offset int) ([]*Pack, int, error)
}

type VersionRepository interface {
	CreateVersion(ctx context.Context, v *PackVersion) error
	GetVersion(ctx context.Context, id uuid.UUID) (*PackVersion, error)
	UpdateVersion(ctx context.Context, v *PackVersion) error
	ListVersions(ctx context.Context, packID uuid.UUID, status *VersionStatus) ([]*PackVersion, error)
	// MaxVersion returns the highest version number of the pack, or 0.
	MaxVersion(ctx context.Context, packID uuid.UUID) (int, error)
}

type ApplicationRepository interface {
	CreateApplication(ctx context.Context, a *PackApplication) error
	GetApplication(ctx context.Context, id ulid.ULID) (*PackApplication, error)
	ListApplications(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*PackApplication, int, error)
	// CountApplications returns how many applies reference the version.
	CountApplications(ctx context.Context, versionID uuid.UUID) (int, error)
}
