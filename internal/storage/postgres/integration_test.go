//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dsamentor/mentor/internal/domain"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("mentor"),
		tcpostgres.WithUsername("mentor"),
		tcpostgres.WithPassword("mentor"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return dsn
}

func TestIntegration_StateStore(t *testing.T) {
	dsn := startPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := Open(ctx, dsn, domain.DefaultPolicy())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if _, err := store.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Load() on empty table error = %v; want ErrNotFound", err)
	}

	snap := domain.DefaultSnapshot(domain.DefaultPolicy())
	snap.App.CurrentProblem = "merge-intervals"
	snap.App.ExplanationHistory = []string{"sort by start"}
	snap.Effort = domain.EffortState{Active: true, TimeLeft: 90, RunCount: 1}

	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	snap.Effort.TimeLeft = 89
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Effort.TimeLeft != 89 || got.App.CurrentProblem != "merge-intervals" {
		t.Errorf("Load() = %+v", got)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Errorf("re-running Migrate() error = %v", err)
	}
}
