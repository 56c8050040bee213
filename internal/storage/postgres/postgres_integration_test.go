//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/xenking/kart-catalog/internal/domain/contact"
	"github.com/xenking/kart-catalog/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "kart",
				"POSTGRES_PASSWORD": "kart",
				"POSTGRES_DB":       "kart",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://kart:kart@%s:%s/kart?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// Applying the schema twice must be harmless.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations (second run): %v", err)
	}

	return m.Run()
}

func TestProductRepository_ReplaceAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testPool)

	original := decimal.RequireFromString("99.00")
	products := []product.Product{
		{
			ID:             "5",
			Name:           "Disco freno ventilato 206 mm",
			Slug:           "disco-freno-ventilato-206",
			Category:       "freni-accessori",
			Brand:          "CRG",
			Price:          decimal.RequireFromString("89.00"),
			OriginalPrice:  &original,
			InStock:        true,
			Specifications: map[string]string{"Diametro": "206 mm"},
		},
		{
			ID:       "6",
			Name:     "Catena 428 Regina 106 maglie",
			Slug:     "catena-428-regina-106",
			Category: "trasmissione",
			Brand:    "Regina",
			Price:    decimal.RequireFromString("45.00"),
		},
	}

	n, err := repo.Replace(ctx, products)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := repo.LoadProducts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "disco-freno-ventilato-206", got[0].Slug)
	assert.True(t, got[0].Price.Equal(products[0].Price))
	require.NotNil(t, got[0].OriginalPrice)
	assert.True(t, got[0].OriginalPrice.Equal(original))
	assert.Equal(t, "206 mm", got[0].Specifications["Diametro"])

	assert.Equal(t, "catena-428-regina-106", got[1].Slug)
	assert.Nil(t, got[1].OriginalPrice)
	assert.Empty(t, got[1].Specifications)
	assert.False(t, got[1].InStock)

	// A second Replace drops the previous snapshot.
	_, err = repo.Replace(ctx, products[1:])
	require.NoError(t, err)

	got, err = repo.LoadProducts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "catena-428-regina-106", got[0].Slug)

	catalog, err := product.LoadCatalog(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())
}

func TestContactRepository_Save(t *testing.T) {
	ctx := context.Background()
	repo := NewContactRepository(testPool)

	before, err := repo.Count(ctx)
	require.NoError(t, err)

	svc := contact.NewService(repo, contact.NewLogNotifier(zap.NewNop()))
	msg, err := svc.Submit(ctx, contact.Submission{
		Name:    "Mario Rossi",
		Email:   "mario@example.com",
		Subject: "Disponibilità telaio",
		Message: "Vorrei sapere quando torna disponibile il telaio.",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, msg.ID)

	after, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	// The primary key rejects a replayed message.
	require.Error(t, repo.Save(ctx, msg))
}
