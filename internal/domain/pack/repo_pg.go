package pack

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/ehr/diagconfig/internal/domain/catalog"
	"github.com/ehr/diagconfig/internal/platform/db"
)

type queryable = db.Querier

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Pack Repository ===========

type packRepoPG struct{ pool *pgxpool.Pool }

func NewPackRepoPG(pool *pgxpool.Pool) PackRepository {
	return &packRepoPG{pool: pool}
}

const packCols = `id, code, name, lab_type, description, is_active, created_at, updated_at`

func scanPack(row pgx.Row) (*Pack, error) {
	var p Pack
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.LabType, &p.Description, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, catalog.MapPGError(err)
	}
	return &p, nil
}

func (r *packRepoPG) CreatePack(ctx context.Context, p *Pack) error {
	p.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO diagnostic_pack (id, code, name, lab_type, description, is_active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		p.ID, p.Code, p.Name, p.LabType, p.Description, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return catalog.MapPGError(err)
}

func (r *packRepoPG) GetPack(ctx context.Context, id uuid.UUID) (*Pack, error) {
	return scanPack(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+packCols+` FROM diagnostic_pack WHERE id = $1`, id))
}

func (r *packRepoPG) UpdatePack(ctx context.Context, p *Pack) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE diagnostic_pack SET name = $2, lab_type = $3, description = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.LabType, p.Description, p.IsActive,
	).Scan(&p.UpdatedAt)
	return catalog.MapPGError(err)
}

func (r *packRepoPG) ListPacks(ctx context.Context, f PackFilter, limit, offset int) ([]*Pack, int, error) {
	where := `WHERE ($1 OR is_active) AND ($2 = '' OR lab_type = $2)`
	q := connFor(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM diagnostic_pack `+where, f.IncludeInactive, f.LabType).Scan(&total); err != nil {
		return nil, 0, catalog.MapPGError(err)
	}
	rows, err := q.Query(ctx, `SELECT `+packCols+` FROM diagnostic_pack `+where+`
		ORDER BY code LIMIT $3 OFFSET $4`, f.IncludeInactive, f.LabType, limit, offset)
	if err != nil {
		return nil, 0, catalog.MapPGError(err)
	}
	defer rows.Close()
	var packs []*Pack
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			return nil, 0, err
		}
		packs = append(packs, p)
	}
	return packs, total, catalog.MapPGError(rows.Err())
}

// =========== Version Repository ===========

type versionRepoPG struct{ pool *pgxpool.Pool }

func NewVersionRepoPG(pool *pgxpool.Pool) VersionRepository {
	return &versionRepoPG{pool: pool}
}

const versionCols = `id, pack_id, version, status, notes, payload, created_at, updated_at`

func scanVersion(row pgx.Row) (*PackVersion, error) {
	var v PackVersion
	var payload []byte
	if err := row.Scan(&v.ID, &v.PackID, &v.Version, &v.Status, &v.Notes, &payload,
		&v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, catalog.MapPGError(err)
	}
	v.Payload = json.RawMessage(payload)
	return &v, nil
}

func (r *versionRepoPG) CreateVersion(ctx context.Context, v *PackVersion) error {
	v.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO diagnostic_pack_version (id, pack_id, version, status, notes, payload)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		v.ID, v.PackID, v.Version, v.Status, v.Notes, []byte(v.Payload),
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	return catalog.MapPGError(err)
}

func (r *versionRepoPG) GetVersion(ctx context.Context, id uuid.UUID) (*PackVersion, error) {
	return scanVersion(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+versionCols+` FROM diagnostic_pack_version WHERE id = $1`, id))
}

func (r *versionRepoPG) UpdateVersion(ctx context.Context, v *PackVersion) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE diagnostic_pack_version SET status = $2, notes = $3, payload = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		v.ID, v.Status, v.Notes, []byte(v.Payload),
	).Scan(&v.UpdatedAt)
	return catalog.MapPGError(err)
}

func (r *versionRepoPG) ListVersions(ctx context.Context, packID uuid.UUID, status *VersionStatus) ([]*PackVersion, error) {
	var filter string
	if status != nil {
		filter = string(*status)
	}
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+versionCols+` FROM diagnostic_pack_version
		WHERE pack_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY version DESC`, packID, filter)
	if err != nil {
		return nil, catalog.MapPGError(err)
	}
	defer rows.Close()
	var out []*PackVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, catalog.MapPGError(rows.Err())
}

func (r *versionRepoPG) MaxVersion(ctx context.Context, packID uuid.UUID) (int, error) {
	var max int
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM diagnostic_pack_version WHERE pack_id = $1`, packID).Scan(&max)
	return max, catalog.MapPGError(err)
}

// =========== Application Repository ===========

type applicationRepoPG struct{ pool *pgxpool.Pool }

func NewApplicationRepoPG(pool *pgxpool.Pool) ApplicationRepository {
	return &applicationRepoPG{pool: pool}
}

const applicationCols = `id, pack_id, pack_version_id, branch_id, placements, summary, applied_by, applied_at`

func scanApplication(row pgx.Row) (*PackApplication, error) {
	var a PackApplication
	var id string
	var placements, summary []byte
	if err := row.Scan(&id, &a.PackID, &a.PackVersionID, &a.BranchID, &placements, &summary,
		&a.AppliedBy, &a.AppliedAt); err != nil {
		return nil, catalog.MapPGError(err)
	}
	var err error
	if a.ID, err = ulid.ParseStrict(id); err != nil {
		return nil, fmt.Errorf("parse application id %q: %w", id, err)
	}
	if err := json.Unmarshal(placements, &a.Placements); err != nil {
		return nil, fmt.Errorf("decode placements of %s: %w", id, err)
	}
	if err := json.Unmarshal(summary, &a.Summary); err != nil {
		return nil, fmt.Errorf("decode summary of %s: %w", id, err)
	}
	return &a, nil
}

func (r *applicationRepoPG) CreateApplication(ctx context.Context, a *PackApplication) error {
	placements, err := json.Marshal(a.Placements)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(a.Summary)
	if err != nil {
		return err
	}
	err = connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO diagnostic_pack_application (id, pack_id, pack_version_id, branch_id, placements,
			summary, applied_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING applied_at`,
		a.ID.String(), a.PackID, a.PackVersionID, a.BranchID, placements, summary, a.AppliedBy,
	).Scan(&a.AppliedAt)
	return catalog.MapPGError(err)
}

func (r *applicationRepoPG) GetApplication(ctx context.Context, id ulid.ULID) (*PackApplication, error) {
	return scanApplication(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+applicationCols+` FROM diagnostic_pack_application WHERE id = $1`, id.String()))
}

func (r *applicationRepoPG) ListApplications(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]*PackApplication, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM diagnostic_pack_application WHERE branch_id = $1`, branchID).Scan(&total); err != nil {
		return nil, 0, catalog.MapPGError(err)
	}
	rows, err := q.Query(ctx, `SELECT `+applicationCols+` FROM diagnostic_pack_application
		WHERE branch_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`, branchID, limit, offset)
	if err != nil {
		return nil, 0, catalog.MapPGError(err)
	}
	defer rows.Close()
	var out []*PackApplication
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, catalog.MapPGError(rows.Err())
}

func (r *applicationRepoPG) CountApplications(ctx context.Context, versionID uuid.UUID) (int, error) {
	var n int
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM diagnostic_pack_application WHERE pack_version_id = $1`, versionID).Scan(&n)
	return n, catalog.MapPGError(err)
}
