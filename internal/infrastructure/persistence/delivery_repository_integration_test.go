//go:build integration

package persistence

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/storefront/backend/internal/domain/delivery"
	"github.com/storefront/backend/internal/infrastructure/config"
	"github.com/storefront/backend/internal/infrastructure/migration"
)

func migratedPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("delivery_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
	m, err := migration.New(sqlDB, config.DriverPostgres, root, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Up())

	return db
}

func TestDeliveryOrderRepository_Postgres(t *testing.T) {
	db := migratedPostgres(t)
	ctx := context.Background()

	company := newTestCompany(t)
	require.NoError(t, NewGormDeliveryCompanyRepository(db).Save(ctx, company))
	repo := NewGormDeliveryOrderRepository(db)

	// concurrent first dispatches of one pair: exactly one row wins
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		saved    int
		rejected int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := delivery.NewDeliveryOrder("SO-9001", company.ID, decimal.NewFromInt(5))
			if !assert.NoError(t, err) {
				return
			}
			err = repo.Save(ctx, order)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				saved++
			case assert.ErrorIs(t, err, delivery.ErrDeliveryAlreadyDispatched):
				rejected++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, saved)
	assert.Equal(t, 7, rejected)

	got, err := repo.FindByOrderAndCompany(ctx, "SO-9001", company.ID)
	require.NoError(t, err)
	assert.Equal(t, delivery.DeliveryStatusPending, got.Status)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, delivery.ErrDeliveryOrderNotFound)
}
