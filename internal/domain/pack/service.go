package pack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/ehr/diagconfig/internal/domain/catalog"
	"github.com/ehr/diagconfig/internal/platform/metrics"
)

// Service owns the pack registry and records every successful apply.
type Service struct {
	packs    PackRepository
	versions VersionRepository
	apps     ApplicationRepository
	applier  *Applier
	metrics  *metrics.Collectors
	logger   zerolog.Logger
}

func NewService(packs PackRepository, versions VersionRepository, apps ApplicationRepository,
	applier *Applier, m *metrics.Collectors, logger zerolog.Logger) *Service {
	return &Service{
		packs:    packs,
		versions: versions,
		apps:     apps,
		applier:  applier,
		metrics:  m,
		logger:   logger.With().Str("component", "pack-service").Logger(),
	}
}

func trimOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// =========== Packs ===========

func (s *Service) CreatePack(ctx context.Context, p *Pack) error {
	code, err := catalog.AssertCode(p.Code, "Pack")
	if err != nil {
		return err
	}
	name, err := catalog.AssertName(p.Name, "Pack")
	if err != nil {
		return err
	}
	p.Code, p.Name = code, name
	p.LabType = trimOrNil(p.LabType)
	p.Description = trimOrNil(p.Description)
	return s.packs.CreatePack(ctx, p)
}

func (s *Service) GetPack(ctx context.Context, id uuid.UUID) (*Pack, error) {
	return s.packs.GetPack(ctx, id)
}

// PackUpdate carries the metadata fields to change. Nil fields are kept.
type PackUpdate struct {
	Name        *string `json:"name"`
	LabType     *string `json:"labType"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

func (s *Service) UpdatePack(ctx context.Context, id uuid.UUID, u PackUpdate) (*Pack, error) {
	p, err := s.packs.GetPack(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		if p.Name, err = catalog.AssertName(*u.Name, "Pack"); err != nil {
			return nil, err
		}
	}
	if u.LabType != nil {
		p.LabType = trimOrNil(u.LabType)
	}
	if u.Description != nil {
		p.Description = trimOrNil(u.Description)
	}
	if u.IsActive != nil {
		p.IsActive = *u.IsActive
	}
	if err := s.packs.UpdatePack(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPacks(ctx context.Context, f PackFilter, limit, offset int) ([]*Pack, int, error) {
	f.LabType = strings.TrimSpace(f.LabType)
	return s.packs.ListPacks(ctx, f, limit, offset)
}

// =========== Versions ===========

// VersionInput creates a version. Version defaults to one past the pack's
// highest and Status to DRAFT.
type VersionInput struct {
	Version *int            `json:"version"`
	Status  *VersionStatus  `json:"status"`
	Notes   *string         `json:"notes"`
	Payload json.RawMessage `json:"payload"`
}

// checkPayload parses and validates raw, returning its compacted form.
func checkPayload(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	p, err := ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", catalog.ErrInvalidValue, err)
	}
	return buf.Bytes(), nil
}

func (s *Service) CreateVersion(ctx context.Context, packID uuid.UUID, in VersionInput) (*PackVersion, error) {
	if _, err := s.packs.GetPack(ctx, packID); err != nil {
		return nil, err
	}
	payload, err := checkPayload(in.Payload)
	if err != nil {
		return nil, err
	}

	status := VersionDraft
	if in.Status != nil {
		if status, err = ParseVersionStatus(string(*in.Status)); err != nil {
			return nil, err
		}
	}

	max, err := s.versions.MaxVersion(ctx, packID)
	if err != nil {
		return nil, err
	}
	version := max + 1
	if in.Version != nil {
		if *in.Version < 1 {
			return nil, fmt.Errorf("%w: version must be positive", catalog.ErrInvalidValue)
		}
		if *in.Version <= max {
			return nil, fmt.Errorf("%w: version %d must exceed the current version %d", catalog.ErrConflictingState, *in.Version, max)
		}
		version = *in.Version
	}

	v := &PackVersion{
		PackID:  packID,
		Version: version,
		Status:  status,
		Notes:   trimOrNil(in.Notes),
		Payload: payload,
	}
	if err := s.versions.CreateVersion(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) GetVersion(ctx context.Context, id uuid.UUID) (*PackVersion, error) {
	return s.versions.GetVersion(ctx, id)
}

func (s *Service) ListVersions(ctx context.Context, packID uuid.UUID, status *VersionStatus) ([]*PackVersion, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: version status %q", catalog.ErrInvalidValue, *status)
	}
	if _, err := s.packs.GetPack(ctx, packID); err != nil {
		return nil, err
	}
	return s.versions.ListVersions(ctx, packID, status)
}

// VersionUpdate carries the version fields to change. Nil fields are kept.
type VersionUpdate struct {
	Status  *VersionStatus  `json:"status"`
	Notes   *string         `json:"notes"`
	Payload json.RawMessage `json:"payload"`
}

// UpdateVersion changes status, notes or payload. The payload of a version
// that has been applied cannot change.
func (s *Service) UpdateVersion(ctx context.Context, id uuid.UUID, u VersionUpdate) (*PackVersion, error) {
	v, err := s.versions.GetVersion(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Status != nil && *u.Status != v.Status {
		if !u.Status.Valid() {
			return nil, fmt.Errorf("%w: version status %q", catalog.ErrInvalidValue, *u.Status)
		}
		if err := ValidateVersionTransition(v.Status, *u.Status); err != nil {
			return nil, err
		}
		v.Status = *u.Status
	}
	if u.Notes != nil {
		v.Notes = trimOrNil(u.Notes)
	}
	if u.Payload != nil {
		payload, err := checkPayload(u.Payload)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(payload, v.Payload) {
			n, err := s.apps.CountApplications(ctx, v.ID)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				return nil, fmt.Errorf("%w: version %d has been applied %d times; create a new version to change its payload",
					catalog.ErrConflictingState, v.Version, n)
			}
			v.Payload = payload
		}
	}

	if err := s.versions.UpdateVersion(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// =========== Apply ===========

type ApplyRequest struct {
	BranchID      uuid.UUID   `json:"branchId"`
	PackVersionID uuid.UUID   `json:"packVersionId"`
	Placements    []Placement `json:"placements"`
	AppliedBy     string      `json:"-"`
}

// Apply applies an ACTIVE pack version to a branch and records the audit
// entry in the same branch transaction.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*PackApplication, error) {
	start := time.Now()
	app, err := s.apply(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		kind := catalog.Kind(err)
		s.metrics.ObserveApply(kind, elapsed, nil)
		s.logger.Warn().Err(err).
			Str("branch_id", req.BranchID.String()).
			Str("pack_version_id", req.PackVersionID.String()).
			Str("kind", kind).
			Msg("pack apply failed")
		return nil, err
	}

	rows := make(map[string]int)
	evt := s.logger.Info().
		Str("branch_id", app.BranchID.String()).
		Str("pack_version_id", app.PackVersionID.String()).
		Str("application_id", app.ID.String()).
		Dur("duration", elapsed)
	for _, st := range app.Summary.Stages() {
		rows[st.Stage] = st.Rows
		evt = evt.Int(st.Stage, st.Rows)
	}
	evt.Msg("pack applied")
	s.metrics.ObserveApply("success", elapsed, rows)
	return app, nil
}

func (s *Service) apply(ctx context.Context, req ApplyRequest) (*PackApplication, error) {
	if req.BranchID == uuid.Nil {
		return nil, fmt.Errorf("%w: branchId is required", catalog.ErrInvalidValue)
	}
	v, err := s.versions.GetVersion(ctx, req.PackVersionID)
	if err != nil {
		return nil, err
	}
	if v.Status != VersionActive {
		return nil, fmt.Errorf("%w: only ACTIVE pack versions can be applied, version %d is %s",
			catalog.ErrInvalidTransition, v.Version, v.Status)
	}
	payload, err := ParsePayload(v.Payload)
	if err != nil {
		return nil, err
	}
	placements, err := NewPlacements(req.Placements)
	if err != nil {
		return nil, err
	}

	app := &PackApplication{
		ID:            ulid.Make(),
		PackID:        v.PackID,
		PackVersionID: v.ID,
		BranchID:      req.BranchID,
		Placements:    placements.List(),
	}
	if req.AppliedBy != "" {
		by := req.AppliedBy
		app.AppliedBy = &by
	}

	err = s.applier.WithinBranch(ctx, req.BranchID, func(ctx context.Context) error {
		sum, err := s.applier.Apply(ctx, req.BranchID, payload, placements)
		if err != nil {
			return err
		}
		app.Summary = sum
		return s.apps.CreateApplication(ctx, app)
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (s *Service) GetApplication(ctx context.Context, id ulid.ULID) (*PackApplication, error) {
	return s.apps.GetApplication(ctx, id)
}

func (s *Service) ListApplications(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*PackApplication, int, error) {
	return s.apps.ListApplications(ctx, branchID, limit, offset)
}
