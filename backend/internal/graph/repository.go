// Package graph persists the knowledge graph in Neo4j, one database per
// tenant. Multi-step writes run inside managed transactions so they either
// fully apply or fully roll back.
package graph

import (
	"context"
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"gnosis/backend/pkg/logger"
	"go.uber.org/zap"
)

// Repository handles all Neo4j database operations
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Named("graph"),
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// Ping verifies connectivity to the graph store
func (r *Repository) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraints for a tenant's database.
// Safe to call repeatedly.
func (r *Repository) EnsureSchema(ctx context.Context, tenant string) error {
	session := r.session(ctx, tenant, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	constraints := []string{
		`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT identifier_value_type IF NOT EXISTS FOR (i:Identifier) REQUIRE (i.value, i.type) IS UNIQUE`,
		`CREATE CONSTRAINT fact_id IF NOT EXISTS FOR (f:Fact) REQUIRE f.fact_id IS UNIQUE`,
		`CREATE CONSTRAINT source_id IF NOT EXISTS FOR (s:Source) REQUIRE s.id IS UNIQUE`,
	}

	for _, constraint := range constraints {
		if _, err := session.Run(ctx, constraint, nil); err != nil {
			return fmt.Errorf("failed to ensure schema for tenant %s: %w", tenant, err)
		}
	}

	r.logger.Info("Schema ensured", zap.String("tenant", tenant))
	return nil
}

// session opens a session against the tenant's database
func (r *Repository) session(ctx context.Context, tenant string, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: tenantDatabase(tenant),
	})
}

// tenantDatabase maps a tenant identifier onto a Neo4j database name.
// Database names must start with a letter and may contain ascii letters,
// digits and dashes.
func tenantDatabase(tenant string) string {
	var b strings.Builder
	b.WriteString("tenant-")
	for _, c := range strings.ToLower(tenant) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// isConstraintViolation reports whether err is a Neo4j uniqueness
// constraint failure
func isConstraintViolation(err error) bool {
	var neo4jErr *neo4j.Neo4jError
	if goerrors.As(err, &neo4jErr) {
		return neo4jErr.Code == "Neo.ClientError.Schema.ConstraintValidationFailed"
	}
	return false
}
