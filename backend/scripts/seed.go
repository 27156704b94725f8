package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"gnosis/backend/internal/domain"
	"gnosis/backend/internal/graph"
	"gnosis/backend/pkg/config"
	"gnosis/backend/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Seeds a tenant with a small demo graph: two entities, a shared fact, and
// per-fact provenance. Intended for local development against a fresh
// Neo4j instance.
func main() {
	tenant := flag.String("tenant", "demo", "Tenant to seed")
	reset := flag.Bool("reset", false, "Delete all existing entities in the tenant first")
	flag.Parse()

	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting graph seeding...", zap.String("tenant", *tenant))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	ctx := context.Background()
	defer driver.Close(ctx)

	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	repo := graph.NewRepository(driver)

	if *reset {
		log.Info("Resetting tenant graph...")
		if err := resetTenant(ctx, driver, *tenant); err != nil {
			log.Fatal("Failed to reset tenant", zap.Error(err))
		}
	}

	log.Info("Ensuring schema constraints...")
	if err := repo.EnsureSchema(ctx, *tenant); err != nil {
		log.Fatal("Failed to ensure schema", zap.Error(err))
	}

	alice, err := seedEntity(ctx, repo, *tenant, "alice@example.com", map[string]string{"plan": "pro"})
	if err != nil {
		log.Fatal("Failed to seed entity", zap.Error(err))
	}
	bob, err := seedEntity(ctx, repo, *tenant, "bob@example.com", nil)
	if err != nil {
		log.Fatal("Failed to seed entity", zap.Error(err))
	}

	// Both entities reference the same fact node
	facts := []struct {
		entityID   string
		name       string
		factType   string
		verb       string
		confidence float64
		evidence   string
	}{
		{alice, "Paris", "Location", "lives_in", 0.95, "alice mentioned moving to Paris last spring"},
		{alice, "Go", "Skill", "knows", 1.0, "alice linked her Go repositories"},
		{bob, "Paris", "Location", "visited", 0.7, "bob posted photos from Paris"},
	}
	for _, f := range facts {
		if err := seedFact(ctx, repo, *tenant, f.entityID, f.name, f.factType, f.verb, f.confidence, f.evidence); err != nil {
			log.Fatal("Failed to seed fact", zap.String("fact", f.name), zap.Error(err))
		}
	}

	log.Info("Seeding complete",
		zap.String("tenant", *tenant),
		zap.String("alice_id", alice),
		zap.String("bob_id", bob),
	)
}

func seedEntity(ctx context.Context, repo *graph.Repository, tenant, email string, metadata map[string]string) (string, error) {
	existing, err := repo.FindEntityByIdentifier(ctx, tenant, email, domain.IdentifierTypeEmail)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.Entity.ID, nil
	}

	identifier, err := domain.NewIdentifier(email, domain.IdentifierTypeEmail)
	if err != nil {
		return "", err
	}
	result, err := repo.CreateEntity(ctx, tenant, domain.NewEntity(metadata), identifier, domain.NewHasIdentifier(true))
	if err != nil {
		return "", err
	}
	return result.Entity.ID, nil
}

func seedFact(ctx context.Context, repo *graph.Repository, tenant, entityID, name, factType, verb string, confidence float64, evidence string) error {
	fact, err := domain.NewFact(name, factType)
	if err != nil {
		return err
	}
	source, err := domain.NewSource(evidence, time.Time{})
	if err != nil {
		return err
	}
	relationship, err := domain.NewHasFact(verb, confidence)
	if err != nil {
		return err
	}
	_, err = repo.AddFactToEntity(ctx, tenant, entityID, fact, source, relationship)
	return err
}

func resetTenant(ctx context.Context, driver neo4j.DriverWithContext, tenant string) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: "tenant-" + tenant,
	})
	defer session.Close(ctx)

	_, err := session.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
	return err
}
