package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/diagconfig/internal/platform/db"
)

// ApplyLockPrefix namespaces the per-branch advisory lock taken by WithinBranch.
const ApplyLockPrefix = "diagnostics-apply:"

type queryable = db.Querier

// PGStore is the Postgres Store. Writes run under a savepoint when the
// context carries a transaction, so one failed upsert can be retried.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *PGStore) write(ctx context.Context, fn func(q queryable) error) error {
	return MapPGError(db.Savepoint(ctx, s.pool, fn))
}

// MapPGError converts pgx errors into catalog error kinds. Errors that
// already carry a kind pass through unchanged.
func MapPGError(err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != "Internal" {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConflictingState, pgErr.Message)
		case "23503":
			return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.Message)
		case "23514", "22P02", "22001", "22003":
			return fmt.Errorf("%w: %s", ErrInvalidValue, pgErr.Message)
		}
		return err
	}
	// pgx reports arguments it cannot encode for the column type, such as an
	// int4 overflow, before anything reaches the server.
	if strings.Contains(err.Error(), "failed to encode args") {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func (s *PGStore) WithinBranch(ctx context.Context, branchID uuid.UUID, fn func(ctx context.Context) error) error {
	err := db.RunInTx(ctx, s.pool, ApplyLockPrefix+branchID.String(), fn)
	if err == nil || Kind(err) != "Internal" {
		return err
	}
	return MapPGError(err)
}

// =========== Service points ===========

const servicePointCols = `id, branch_id, location_node_id, unit_id, code, name, type, sort_order,
	notes, status, created_at, updated_at`

func scanServicePoint(row pgx.Row) (*ServicePoint, error) {
	var sp ServicePoint
	err := row.Scan(&sp.ID, &sp.BranchID, &sp.LocationNodeID, &sp.UnitID, &sp.Code, &sp.Name, &sp.Type,
		&sp.SortOrder, &sp.Notes, &sp.Status, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return nil, MapPGError(err)
	}
	return &sp, nil
}

func (s *PGStore) FindServicePoint(ctx context.Context, branchID uuid.UUID, code string) (*ServicePoint, error) {
	return scanServicePoint(s.conn(ctx).QueryRow(ctx,
		`SELECT `+servicePointCols+` FROM diagnostic_service_point WHERE branch_id = $1 AND code = $2`,
		branchID, code))
}

func (s *PGStore) UpsertServicePoint(ctx context.Context, sp *ServicePoint) error {
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}
	return s.write(ctx, func(q queryable) error {
		return q.QueryRow(ctx, `
			INSERT INTO diagnostic_service_point (id, branch_id, location_node_id, unit_id, code, name, type,
				sort_order, notes, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (branch_id, code) DO UPDATE SET
				location_node_id = EXCLUDED.location_node_id, unit_id = EXCLUDED.unit_id,
				name = EXCLUDED.name, type = EXCLUDED.type, sort_order = EXCLUDED.sort_order,
				notes = EXCLUDED.notes, status = EXCLUDED.status, updated_at = NOW()
			RETURNING id, created_at, updated_at`,
			sp.ID, sp.BranchID, sp.LocationNodeID, sp.UnitID, sp.Code, sp.Name, sp.Type,
			sp.SortOrder, sp.Notes, sp.Status,
		).Scan(&sp.ID, &sp.CreatedAt, &sp.UpdatedAt)
	})
}

// =========== Sections ===========

const sectionCols = `id, branch_id, code, name, sort_order, status, created_at, updated_at`

func scanSection(row pgx.Row) (*Section, error) {
	var sec Section
	if err := row.Scan(&sec.ID, &sec.BranchID, &sec.Code, &sec.Name, &sec.SortOrder, &sec.Status,
		&sec.CreatedAt, &sec.UpdatedAt); err != nil {
		return nil, MapPGError(err)
	}
	return &sec, nil
}

func (s *PGStore) FindSection(ctx context.Context, branchID uuid.UUID, code string) (*Section, error) {
	return scanSection(s.conn(ctx).QueryRow(ctx,
		`SELECT `+sectionCols+` FROM diagnostic_section WHERE branch_id = $1 AND code = $2`, branchID, code))
}

func (s *PGStore) UpsertSection(ctx context.Context, sec *Section) error {
	if sec.ID == uuid.Nil {
		sec.ID = uuid.New()
	}
	return s.write(ctx, func(q queryable) error {
		return q.QueryRow(ctx, `
			INSERT INTO diagnostic_section (id, branch_id, code, name, sort_order, status)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (branch_id, code) DO UPDATE SET
				name = EXCLUDED.name, sort_order = EXCLUDED.sort_order,
				status = EXCLUDED.status, updated_at = NOW()
			RETURNING id, created_at, updated_at`,
			sec.ID, sec.BranchID, sec.Code, sec.Name, sec.SortOrder, sec.Status,
		).Scan(&sec.ID, &sec.CreatedAt, &sec.UpdatedAt)
	})
}

// =========== Categories ===========

const categoryCols = `id, branch_id, section_id, code, name, sort_order, status, created_at, updated_at`

func (s *PGStore) FindCategory(ctx context.Context, branchID, sectionID uuid.UUID, code string) (*Category, error) {
	var c Category
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT `+categoryCols+` FROM diagnostic_category WHERE branch_id = $1 AND section_id = $2 AND code = $3`,
		branchID, sectionID, code,
	).Scan(&c.ID, &c.BranchID, &c.SectionID, &c.Code, &c.Name, &c.SortOrder, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, MapPGError(err)
	}
	return &c, nil
}

func (s *PGStore) UpsertCategory(ctx context.Context, c *Category) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return s.write(ctx, func(q queryable) error {
		return q.QueryRow(ctx, `
			INSERT INTO diagnostic_category (id, branch_id, section_id, code, name, sort_order, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (branch_id, section_id, code) DO UPDATE SET
				name = EXCLUDED.name, sort_order = EXCLUDED.sort_order,
				status = EXCLUDED.status, updated_at = NOW()
			RETURNING id, created_at, updated_at`,
			c.ID, c.BranchID, c.SectionID, c.Code, c.Name, c.SortOrder, c.Status,
		).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	})
}

// =========== Specimens ===========

const specimenCols = `id, branch_id, code, name, container, min_volume_ml, handling_notes, sort_order,
	status, created_at, updated_at`

func (s *PGStore) FindSpecimen(ctx context.Context, branchID uuid.UUID, code string) (*Specimen, error) {
	var sp Specimen
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT `+specimenCols+` FROM diagnostic_specimen WHERE branch_id = $1 AND code = $2`, branchID, code,
	).Scan(&sp.ID, &sp.BranchID, &sp.Code, &sp.Name, &sp.Container, &sp.MinVolumeMl, &sp.HandlingNotes,
		&sp.SortOrder, &sp.Status, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return nil, MapPGError(err)
	}
	return &sp, nil
}

func (s *PGStore) UpsertSpecimen(ctx context.Context, sp *Specimen) error {
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}
	return s.write(ctx, func(q queryable) error {
		return q.QueryRow(ctx, `
			INSERT INTO diagnostic_specimen (id, branch_id, code, name, container, min_volume_ml,
				handling_notes, sort_order, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (branch_id, code) DO UPDATE SET
				name = EXCLUDED.name, container = EXCLUDED.container, min_volume_ml = EXCLUDED.min_volume_ml,
				handling_notes = EXCLUDED.handling_notes, sort_order = EXCLUDED.sort_order,
				status = EXCLUDED.status, updated_at = NOW()
			RETURNING id, created_at, updated_at`,
			sp.ID, sp.BranchID, sp.Code, sp.Name, sp.Container, sp.MinVolumeMl, sp.HandlingNotes,
			sp.SortOrder, sp.Status,
		).Scan(&sp.ID, &sp.CreatedAt, &sp.UpdatedAt)
	})
}

// =========== Items ===========

const itemCols = `id, branch_id, code, name, kind, section_id, category_id, specimen_id, is_panel,
	tat_mins_routine, tat_mins_stat, preparation_text, consent_required, requires_appointment,
	sort_order, status, created_at, updated_at`

func (s *PGStore) FindItem(ctx context.Context, branchID uuid.UUID, code string) (*Item, error) {
	var it Item
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM diagnostic_item WHERE branch_id = $1 AND code = $2`, branchID, code,
	).Scan(&it.ID, &it.BranchID, &it.Code, &it.Name, &it.Kind, &it.SectionID, &it.CategoryID, &it.SpecimenID,
		&it.IsPanel, &it.TatMinsRoutine, &it.TatMinsStat, &it.PreparationText, &it.ConsentRequired,
		&it.RequiresAppointment, &it.SortOrder, &it.Status, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, MapPGError(err)
	}
	return &it, nil
}

func (s *PGStore) UpsertItem(ctx context.Context, it *Item) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	return s.write(ctx, func(q queryable) error {
		return q.QueryRow(ctx, `
			INSERT INTO diagnostic_item (id, branch_id, code, name, kind, section_id, category_id, specimen_id,
				is_panel, tat_mins_routine, tat_mins_stat, preparation_text, consent_required,
				requires_appointment, sort_order, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			ON CONFLICT (branch_id, code) DO UPDATE SET
				name = EXCLUDED.name, kind = EXCLUDED.kind, section_id = EXCLUDED.section_id,
				category_id = EXCLUDED.category_id, specimen_id = EXCLUDED.specimen_id,
				is_panel = EXCLUDED.is_panel, tat_mins_routine = EXCLUDED.tat_mins_routine,
				tat_mins_stat = EXCLUDED.tat_mins_stat, preparation_text = EXCLUDED.preparation_text,
				consent_required = EXCLUDED.consent_required,
				requires_appointment = EXCLUDED.requires_appointment,
				sort_order = EXCLUDED.sort_order, status = EXCLUDED.status, updated_at = NOW()
			RETURNING id, created_at, updated_at`,
			it.ID, it.BranchID, it.Code, it.Name, it.Kind, it.SectionID, it.CategoryID, it.SpecimenID,
			it.IsPanel, it.TatMinsRoutine, it.TatMinsStat, it.PreparationText, it.ConsentRequired,
			it.RequiresAppointment, it.SortOrder, it.Status,
		).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
	})
}

// =========== Panel items ===========

func (s *PGStore) DeactivatePanelItems(ctx context.Context, panelID uuid.UUID) (int, error) {
	var n int
	err := s.write(ctx, func(q queryable) error {
		tag, err := q.Exec(ctx,
			`UPDATE diagnostic_panel_item SET status = $2, updated_at = NOW() WHERE panel_id = $1`,
			panelID, StatusInactive)
		n = int(tag.RowsAffected())
		return err
	})
	return n, err
}

func (s *PGStore) UpsertPanelItem(ctx context.Context, pi *PanelItem) error {
	if pi.PanelID == pi.ItemID {
		return &InvalidReferenceError{Entity: EntityPanelItem, Code: pi.ItemID.String(), Reason: "a panel cannot contain itself"}
	}
	return s.write(ctx, func(q queryable) error {
		_, err := q.Exec(ctx, `
			INSERT INTO diagnostic_panel_item (panel_id, item_id, sort_order, status)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (panel_id, item_id) DO UPDATE SET
				sort_order = EXCLUDED.sort_order, status = EXCLUDED.status, updated_at = NOW()`,
			pi.PanelID, pi.ItemID, pi.SortOrder, pi.Status)
		return err
	})
}

// =========== Parameters ===========

const parameterCols = `id, test_id, code, name, data_type, unit, precision, allowed_text, sort_order,
	status, created_at, updated_at`

func (s *PGStore) FindParameter(ctx context.Context, testID uuid.UUID, code string) (*Parameter, error) {
	var p Parameter
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT `+parameterCols+` FROM diagnostic_parameter WHERE test_id = $1 AND code = $2`, testID, code,
	).Scan(&p.ID, &p.TestID, &p.Code, &p.Name, &p.DataType, &p.Unit, &p.Precision, &p.AllowedText,
		&p.SortOrder, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, MapPGError(err)
	}
	return &p, nil
}

func (s *PGStore) UpsertParameter(ctx context.Context, p *Parameter) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return s.write(ctx, func(q queryable) error {
		return q.QueryRow(ctx, `
			INSERT INTO diagnostic_parameter (id, test_id, code, name, data_type, unit, precision,
				allowed_text, sort_order, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (test_id, code) DO UPDATE SET
				name = EXCLUDED.name, data_type = EXCLUDED.data_type, unit = EXCLUDED.unit,
				precision = EXCLUDED.precision, allowed_text = EXCLUDED.allowed_text,
				sort_order = EXCLUDED.sort_order, status = EXCLUDED.status, updated_at = NOW()
			RETURNING id, created_at, updated_at`,
			p.ID, p.TestID, p.Code, p.Name, p.DataType, p.Unit, p.Precision, p.AllowedText,
			p.SortOrder, p.Status,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	})
}

// =========== Ranges and templates ===========

func (s *PGStore) CreateRange(ctx context.Context, r *Range) error {
	r.ID = uuid.New()
	return s.write(ctx, func(q queryable) error {
		return q.QueryRow(ctx, `
			INSERT INTO diagnostic_reference_range (id, parameter_id, sex, age_min_days, age_max_days,
				low, high, text_range, sort_order, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING created_at`,
			r.ID, r.ParameterID, r.Sex, r.AgeMinDays, r.AgeMaxDays, r.Low, r.High, r.TextRange,
			r.SortOrder, r.Status,
		).Scan(&r.CreatedAt)
	})
}

func (s *PGStore) CreateTemplate(ctx context.Context, t *Template) error {
	t.ID = uuid.New()
	return s.write(ctx, func(q queryable) error {
		return q.QueryRow(ctx, `
			INSERT INTO diagnostic_template (id, item_id, kind, name, body, status)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING created_at`,
			t.ID, t.ItemID, t.Kind, t.Name, t.Body, t.Status,
		).Scan(&t.CreatedAt)
	})
}

// =========== Capabilities ===========

const capabilityCols = `id, branch_id, service_point_id, diagnostic_item_id, modality,
	default_duration_mins, is_primary, status, created_at, updated_at`

func (s *PGStore) FindCapability(ctx context.Context, servicePointID, itemID uuid.UUID) (*Capability, error) {
	var c Capability
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT `+capabilityCols+` FROM diagnostic_capability WHERE service_point_id = $1 AND diagnostic_item_id = $2`,
		servicePointID, itemID,
	).Scan(&c.ID, &c.BranchID, &c.ServicePointID, &c.DiagnosticItemID, &c.Modality,
		&c.DefaultDurationMins, &c.IsPrimary, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, MapPGError(err)
	}
	return &c, nil
}

func (s *PGStore) UpsertCapability(ctx context.Context, c *Capability) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return s.write(ctx, func(q queryable) error {
		return q.QueryRow(ctx, `
			INSERT INTO diagnostic_capability (id, branch_id, service_point_id, diagnostic_item_id, modality,
				default_duration_mins, is_primary, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (service_point_id, diagnostic_item_id) DO UPDATE SET
				modality = EXCLUDED.modality, default_duration_mins = EXCLUDED.default_duration_mins,
				is_primary = EXCLUDED.is_primary, status = EXCLUDED.status, updated_at = NOW()
			RETURNING id, created_at, updated_at`,
			c.ID, c.BranchID, c.ServicePointID, c.DiagnosticItemID, c.Modality,
			c.DefaultDurationMins, c.IsPrimary, c.Status,
		).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	})
}

// =========== Capability allow-lists ===========

type allowListTable struct {
	table  string
	refCol string
}

var allowListTables = map[Entity]allowListTable{
	EntityAllowedRoom:      {"diagnostic_capability_room", "room_id"},
	EntityAllowedResource:  {"diagnostic_capability_resource", "resource_id"},
	EntityAllowedEquipment: {"diagnostic_capability_equipment", "equipment_id"},
}

func allowList(entity Entity) (allowListTable, error) {
	t, ok := allowListTables[entity]
	if !ok {
		return allowListTable{}, fmt.Errorf("%w: %q is not a capability allow-list", ErrInvalidValue, entity)
	}
	return t, nil
}

func (s *PGStore) ListAllowances(ctx context.Context, entity Entity, capabilityID uuid.UUID) ([]Allowance, error) {
	t, err := allowList(entity)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT id, capability_id, `+t.refCol+`, status, created_at, updated_at FROM `+t.table+`
		WHERE capability_id = $1 ORDER BY created_at, `+t.refCol, capabilityID)
	if err != nil {
		return nil, MapPGError(err)
	}
	defer rows.Close()

	var out []Allowance
	for rows.Next() {
		a := Allowance{Entity: entity}
		if err := rows.Scan(&a.ID, &a.CapabilityID, &a.RefID, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, MapPGError(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, MapPGError(err)
	}
	return out, nil
}

func (s *PGStore) UpsertAllowance(ctx context.Context, a *Allowance) error {
	t, err := allowList(a.Entity)
	if err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return s.write(ctx, func(q queryable) error {
		return q.QueryRow(ctx, `
			INSERT INTO `+t.table+` (id, capability_id, `+t.refCol+`, status)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (capability_id, `+t.refCol+`) DO UPDATE SET
				status = EXCLUDED.status, updated_at = NOW()
			RETURNING id, created_at, updated_at`,
			a.ID, a.CapabilityID, a.RefID, a.Status,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	})
}

// =========== Status ===========

var statusTables = map[Entity]string{
	EntityServicePoint: "diagnostic_service_point",
	EntitySection:      "diagnostic_section",
	EntityCategory:     "diagnostic_category",
	EntitySpecimen:     "diagnostic_specimen",
	EntityItem:         "diagnostic_item",
	EntityParameter:    "diagnostic_parameter",
	EntityRange:        "diagnostic_reference_range",
	EntityTemplate:     "diagnostic_template",
	EntityCapability:   "diagnostic_capability",

	EntityAllowedRoom:      "diagnostic_capability_room",
	EntityAllowedResource:  "diagnostic_capability_resource",
	EntityAllowedEquipment: "diagnostic_capability_equipment",
}

func statusTable(entity Entity) (string, error) {
	table, ok := statusTables[entity]
	if !ok {
		return "", fmt.Errorf("%w: entity %q has no status by id", ErrInvalidValue, entity)
	}
	return table, nil
}

func (s *PGStore) GetStatus(ctx context.Context, entity Entity, id uuid.UUID) (Status, error) {
	table, err := statusTable(entity)
	if err != nil {
		return "", err
	}
	var st Status
	if err := s.conn(ctx).QueryRow(ctx, `SELECT status FROM `+table+` WHERE id = $1`, id).Scan(&st); err != nil {
		return "", MapPGError(err)
	}
	return st, nil
}

func (s *PGStore) SetStatus(ctx context.Context, entity Entity, id uuid.UUID, status Status) error {
	table, err := statusTable(entity)
	if err != nil {
		return err
	}
	return s.write(ctx, func(q queryable) error {
		tag, err := q.Exec(ctx, `UPDATE `+table+` SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
		}
		return nil
	})
}

// =========== Readiness ===========

const readinessServicePointsSQL = `
	SELECT sp.id, sp.code, sp.name, sp.sort_order,
		(SELECT COUNT(*) FROM diagnostic_capability c
			WHERE c.service_point_id = sp.id AND c.status = 'ACTIVE')
	FROM diagnostic_service_point sp
	WHERE sp.branch_id = $1 AND sp.status = 'ACTIVE'
	ORDER BY sp.sort_order, sp.code`

const readinessItemsSQL = `
	SELECT i.id, i.code, i.name, i.kind, i.is_panel, i.sort_order,
		(SELECT COUNT(*) FROM diagnostic_panel_item pi WHERE pi.panel_id = i.id AND pi.status = 'ACTIVE'),
		(SELECT COUNT(*) FROM diagnostic_parameter p WHERE p.test_id = i.id AND p.status = 'ACTIVE'),
		(SELECT COUNT(*) FROM diagnostic_template t WHERE t.item_id = i.id AND t.status = 'ACTIVE'),
		(SELECT COUNT(*) FROM diagnostic_capability c WHERE c.diagnostic_item_id = i.id AND c.status = 'ACTIVE')
	FROM diagnostic_item i
	WHERE i.branch_id = $1 AND i.status = 'ACTIVE'
	ORDER BY i.sort_order, i.code`

// ReadinessSnapshot reads both result sets in one read-only repeatable-read
// transaction so the counts describe a single point in time.
func (s *PGStore) ReadinessSnapshot(ctx context.Context, branchID uuid.UUID) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, MapPGError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	snap := &Snapshot{BranchID: branchID}

	rows, err := tx.Query(ctx, readinessServicePointsSQL, branchID)
	if err != nil {
		return nil, MapPGError(err)
	}
	for rows.Next() {
		var sp ServicePointStats
		if err := rows.Scan(&sp.ID, &sp.Code, &sp.Name, &sp.SortOrder, &sp.Capabilities); err != nil {
			rows.Close()
			return nil, MapPGError(err)
		}
		snap.ServicePoints = append(snap.ServicePoints, sp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, MapPGError(err)
	}

	rows, err = tx.Query(ctx, readinessItemsSQL, branchID)
	if err != nil {
		return nil, MapPGError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var it ItemStats
		if err := rows.Scan(&it.ID, &it.Code, &it.Name, &it.Kind, &it.IsPanel, &it.SortOrder,
			&it.PanelChildren, &it.Parameters, &it.Templates, &it.Capabilities); err != nil {
			return nil, MapPGError(err)
		}
		snap.Items = append(snap.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, MapPGError(err)
	}
	return snap, nil
}
