package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ehr/wardmed/internal/domain/mar"
	"github.com/ehr/wardmed/internal/domain/reason"
	"github.com/ehr/wardmed/internal/domain/shift"
	"github.com/ehr/wardmed/internal/domain/stock"
	"github.com/ehr/wardmed/internal/platform/db"
)

// globalPool is the migrated test database, set up once in TestMain.
var globalPool *pgxpool.Pool

// TestMain uses WARD_TEST_DATABASE_URL when set, otherwise a Docker
// container. Without either the package is skipped.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("WARD_TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		if _, err := exec.LookPath("docker"); err != nil {
			fmt.Fprintln(os.Stderr, "skipping integration tests: set WARD_TEST_DATABASE_URL or install docker")
			os.Exit(0)
		}
		var err error
		connStr, cleanup, err = startPostgres(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(ctx, connStr, 20, 2)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigrator(pool, migrationsDir()).Up(ctx); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// ward wires the Postgres-backed services the way the server does.
type ward struct {
	ledger  *stock.Service
	marRepo mar.Repository
	mar     *mar.Service
	shifts  *shift.Service
}

func newWard() *ward {
	tx := db.NewTxRunner(globalPool)
	logger := zerolog.Nop()
	ledger := stock.NewService(stock.NewRepoPG(globalPool), tx, logger)
	marRepo := mar.NewRepoPG(globalPool)
	shifts := shift.NewService(shift.NewRepoPG(globalPool), marRepo, tx, logger)
	return &ward{
		ledger:  ledger,
		marRepo: marRepo,
		mar:     mar.NewService(marRepo, ledger, reason.DefaultCatalog(), shifts, tx, logger),
		shifts:  shifts,
	}
}

// Shift locks are keyed by (shift, date) across the whole database, so
// every scenario gets a date no other scenario or earlier run has used.
var (
	dateBase = time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(time.Now().Unix()%2000)*50)
	dateSeq  int64
)

func freshDate() string {
	n := atomic.AddInt64(&dateSeq, 1)
	return dateBase.AddDate(0, 0, int(n)).Format(mar.DateLayout)
}

func uniqueCode(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

var verified = mar.AdministerInput{Verified: true, DeliveryProof: "blob://proof"}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// admit creates a visit for a new patient.
func (w *ward) admit(t *testing.T) *mar.MedVisit {
	t.Helper()
	v := &mar.MedVisit{PatientID: uniqueCode("P"), WardCode: "W1"}
	require.NoError(t, w.mar.Admit(context.Background(), v))
	return v
}

// stockUp imports qty units of a fresh drug code and returns the code.
func (w *ward) stockUp(t *testing.T, qty int64) string {
	t.Helper()
	drug := uniqueCode("DRUG")
	_, err := w.ledger.Import(context.Background(), drug, "L1", dec(qty), "issue-note:IT", "pharmacist-1")
	require.NoError(t, err)
	return drug
}

func (w *ward) schedule(t *testing.T, v *mar.MedVisit, drug string, s mar.ShiftType, date string) *mar.MARItem {
	t.Helper()
	at, err := mar.SlotTime(s, date, time.UTC)
	require.NoError(t, err)
	it := &mar.MARItem{
		VisitID: v.ID, PatientID: v.PatientID, OrderID: "ORD-" + drug,
		DrugCode: drug, DrugName: drug, Dose: dec(1), DoseUnit: "tab", Route: "PO",
		ScheduledAt: at, Shift: s, ShiftDate: date,
	}
	require.NoError(t, w.mar.ScheduleItems(context.Background(), []*mar.MARItem{it}))
	return it
}
