//go:build integration

package pack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ehr/diagconfig/internal/domain/catalog"
	"github.com/ehr/diagconfig/internal/domain/readiness"
	"github.com/ehr/diagconfig/internal/platform/db"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("diagconfig"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		os.Exit(1)
	}

	code, err := runWithDatabase(ctx, ctr, m)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		code = 1
	}
	_ = testcontainers.TerminateContainer(ctr)
	os.Exit(code)
}

func runWithDatabase(ctx context.Context, ctr *postgres.PostgresContainer, m *testing.M) (int, error) {
	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return 0, fmt.Errorf("connection string: %w", err)
	}
	pool, err := db.NewPool(ctx, connStr, 10, 1)
	if err != nil {
		return 0, err
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, migrationsDir()).Up(ctx); err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}
	testPool = pool
	return m.Run(), nil
}

func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "..", "migrations")
}

type pgFixture struct {
	svc   *Service
	store *catalog.PGStore
}

func newPGFixture() *pgFixture {
	store := catalog.NewPGStore(testPool)
	svc := NewService(NewPackRepoPG(testPool), NewVersionRepoPG(testPool), NewApplicationRepoPG(testPool),
		NewApplier(store, zerolog.Nop()), nil, zerolog.Nop())
	return &pgFixture{svc: svc, store: store}
}

func (f *pgFixture) activeVersion(t *testing.T, payload string) *PackVersion {
	t.Helper()
	ctx := context.Background()
	p := &Pack{Code: "pg pack " + uuid.NewString()[:8], Name: "PG pack", IsActive: true}
	require.NoError(t, f.svc.CreatePack(ctx, p))
	active := VersionActive
	v, err := f.svc.CreateVersion(ctx, p.ID, VersionInput{Status: &active, Payload: json.RawMessage(payload)})
	require.NoError(t, err)
	return v
}

func countRows(t *testing.T, query string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, testPool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func TestPG_ApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture()
	v := f.activeVersion(t, cbcPayload)
	branch := uuid.New()
	req := ApplyRequest{
		BranchID:      branch,
		PackVersionID: v.ID,
		Placements:    []Placement{{ServicePointCode: "main lab", LocationNodeID: uuid.New()}},
		AppliedBy:     "integration",
	}

	first, err := f.svc.Apply(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 15, first.Summary.Total())

	_, err = f.svc.Apply(ctx, req)
	require.NoError(t, err)

	require.Equal(t, 3, countRows(t, `SELECT COUNT(*) FROM diagnostic_item WHERE branch_id = $1`, branch))
	require.Equal(t, 2, countRows(t, `SELECT COUNT(*) FROM diagnostic_capability c
		JOIN diagnostic_service_point sp ON sp.id = c.service_point_id WHERE sp.branch_id = $1`, branch))
	require.Equal(t, 2, countRows(t, `SELECT COUNT(*) FROM diagnostic_reference_range r
		JOIN diagnostic_parameter p ON p.id = r.parameter_id
		JOIN diagnostic_item i ON i.id = p.test_id WHERE i.branch_id = $1`, branch))

	apps, total, err := f.svc.ListApplications(ctx, branch, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, apps, 2)

	got, err := f.svc.GetApplication(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, first.Summary, got.Summary)
	require.Equal(t, "MAIN-LAB", got.Placements[0].ServicePointCode)
	require.NotNil(t, got.AppliedBy)
	require.Equal(t, "integration", *got.AppliedBy)
}

func TestPG_ReadinessAfterApply(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture()
	v := f.activeVersion(t, cbcPayload)
	branch := uuid.New()

	_, err := f.svc.Apply(ctx, ApplyRequest{
		BranchID:      branch,
		PackVersionID: v.ID,
		Placements:    []Placement{{ServicePointCode: "MAIN-LAB", LocationNodeID: uuid.New()}},
	})
	require.NoError(t, err)

	report, err := readiness.NewAnalyzer(f.store, nil, zerolog.Nop()).Check(ctx, branch)
	require.NoError(t, err)
	require.True(t, report.Ready, "unexpected blockers: %+v", report.Issues)
	// HB has no template.
	require.Equal(t, 1, report.Warnings())
}

func TestPG_FailedApplyLeavesNoRows(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture()
	v := f.activeVersion(t, `{
	  "servicePoints": [{"code": "XRAY", "name": "X-Ray", "requiresPlacement": false}],
	  "sections": [{"code": "RAD", "name": "Radiology"}],
	  "items": [{"code": "CXR", "name": "Chest X-Ray", "kind": "IMAGING", "sectionCode": "RAD"}],
	  "capabilities": [{"servicePointCode": "XRAY", "itemCode": "MISSING"}]
	}`)
	branch := uuid.New()

	_, err := f.svc.Apply(ctx, ApplyRequest{BranchID: branch, PackVersionID: v.ID})
	require.True(t, errors.Is(err, catalog.ErrUnknownReference), "got %v", err)

	require.Zero(t, countRows(t, `SELECT COUNT(*) FROM diagnostic_service_point WHERE branch_id = $1`, branch))
	require.Zero(t, countRows(t, `SELECT COUNT(*) FROM diagnostic_item WHERE branch_id = $1`, branch))
	require.Zero(t, countRows(t, `SELECT COUNT(*) FROM diagnostic_pack_application WHERE branch_id = $1`, branch))
}

func TestPG_PackCodeIsUnique(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture()
	code := "unique " + uuid.NewString()[:8]

	require.NoError(t, f.svc.CreatePack(ctx, &Pack{Code: code, Name: "First", IsActive: true}))
	err := f.svc.CreatePack(ctx, &Pack{Code: code, Name: "Second", IsActive: true})
	require.True(t, errors.Is(err, catalog.ErrConflictingState), "got %v", err)
}

func TestPG_StatusChangeHidesItem(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture()
	v := f.activeVersion(t, cbcPayload)
	branch := uuid.New()
	_, err := f.svc.Apply(ctx, ApplyRequest{
		BranchID:      branch,
		PackVersionID: v.ID,
		Placements:    []Placement{{ServicePointCode: "MAIN-LAB", LocationNodeID: uuid.New()}},
	})
	require.NoError(t, err)

	hb, err := f.store.FindItem(ctx, branch, "HB")
	require.NoError(t, err)

	changed, err := catalog.NewStatusService(f.store).ChangeStatus(ctx, catalog.EntityItem, hb.ID, catalog.StatusInactive)
	require.NoError(t, err)
	require.True(t, changed)

	snap, err := f.store.ReadinessSnapshot(ctx, branch)
	require.NoError(t, err)
	for _, it := range snap.Items {
		require.NotEqual(t, "HB", it.Code)
	}
}

func TestPG_CapabilityAllowLists(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture()
	room := uuid.New()
	v := f.activeVersion(t, `{
	  "servicePoints": [{"code": "MRI", "name": "MRI suite", "requiresPlacement": false}],
	  "sections": [{"code": "RAD", "name": "Radiology"}],
	  "items": [{"code": "MRI-BRAIN", "name": "MRI brain", "kind": "IMAGING", "sectionCode": "RAD"}],
	  "capabilities": [{"servicePointCode": "MRI", "itemCode": "MRI-BRAIN", "allowedRoomIds": ["`+room.String()+`"]}]
	}`)
	branch := uuid.New()
	for i := 0; i < 2; i++ {
		_, err := f.svc.Apply(ctx, ApplyRequest{BranchID: branch, PackVersionID: v.ID})
		require.NoError(t, err)
	}

	sp, err := f.store.FindServicePoint(ctx, branch, "MRI")
	require.NoError(t, err)
	it, err := f.store.FindItem(ctx, branch, "MRI-BRAIN")
	require.NoError(t, err)
	c, err := f.store.FindCapability(ctx, sp.ID, it.ID)
	require.NoError(t, err)

	svc := catalog.NewAllowListService(f.store)
	rooms, err := svc.List(ctx, catalog.EntityAllowedRoom, c.ID)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, room, rooms[0].RefID)

	require.NoError(t, svc.Remove(ctx, catalog.EntityAllowedRoom, c.ID, rooms[0].ID))
	rooms, err = svc.List(ctx, catalog.EntityAllowedRoom, c.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.StatusInactive, rooms[0].Status)

	_, err = svc.Add(ctx, catalog.EntityAllowedRoom, uuid.New(), uuid.New())
	require.True(t, errors.Is(err, catalog.ErrInvalidReference), "got %v", err)
}

func TestPG_OversizedValuesAreInvalid(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewPGStore(testPool)
	branch := uuid.New()

	err := store.UpsertServicePoint(ctx, &catalog.ServicePoint{
		BranchID: branch, Code: "WIDE", Name: "Wide", Type: strings.Repeat("T", 40), Status: catalog.StatusActive,
	})
	require.True(t, errors.Is(err, catalog.ErrInvalidValue), "got %v", err)

	err = store.UpsertServicePoint(ctx, &catalog.ServicePoint{
		BranchID: branch, Code: "FAR", Name: "Far", Type: "LAB", SortOrder: 3000000000, Status: catalog.StatusActive,
	})
	require.True(t, errors.Is(err, catalog.ErrInvalidValue), "got %v", err)
	require.False(t, errors.Is(err, catalog.ErrStoreUnavailable))
}
