package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"gnosis/backend/internal/adapter"
	"gnosis/backend/internal/graph"
	"gnosis/backend/internal/knowledge"
	"gnosis/backend/internal/vector"
	"gnosis/backend/pkg/config"
	apperrors "gnosis/backend/pkg/errors"
	"gnosis/backend/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting knowledge graph server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	defer driver.Close(context.Background())

	// Verify Neo4j connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	graphRepo := graph.NewRepository(driver)

	// Initialize Qdrant-backed semantic index
	vectorStore, err := vector.NewStore(&vector.Config{
		Host:           cfg.QdrantHost,
		Port:           cfg.QdrantPort,
		UseTLS:         cfg.QdrantUseTLS,
		APIKey:         cfg.QdrantAPIKey,
		Collection:     cfg.QdrantCollection,
		Dimension:      cfg.EmbeddingDimension,
		RequestTimeout: cfg.QdrantRequestTimeout,
	})
	if err != nil {
		log.Fatal("Failed to connect to Qdrant", zap.Error(err))
	}
	defer vectorStore.Close()

	if err := vectorStore.EnsureCollection(ctx); err != nil {
		log.Fatal("Failed to ensure vector collection", zap.Error(err))
	}

	embedder := adapter.NewEmbeddingAdapter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimension)
	svc := knowledge.NewService(graphRepo, vectorStore, embedder)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := graphRepo.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "graph": err.Error()})
			return
		}
		if err := vectorStore.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "vector": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes, all tenant-scoped
	api := router.Group("/api")
	api.Use(tenantMiddleware())
	{
		api.POST("/tenant/provision", func(c *gin.Context) {
			if err := svc.ProvisionTenant(c.Request.Context(), tenantFrom(c)); err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "provisioned"})
		})

		api.POST("/entities", func(c *gin.Context) {
			var req knowledge.CreateEntityRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			result, err := svc.CreateEntity(c.Request.Context(), tenantFrom(c), req)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusCreated, result)
		})

		// Lookup by identifier: GET /api/entities?value=...&type=email
		api.GET("/entities", func(c *gin.Context) {
			record, err := svc.GetEntityByIdentifier(c.Request.Context(), tenantFrom(c), c.Query("value"), c.Query("type"))
			if err != nil {
				respondError(c, log, err)
				return
			}
			if record == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
				return
			}
			c.JSON(http.StatusOK, record)
		})

		api.GET("/entities/:id", func(c *gin.Context) {
			record, err := svc.GetEntityByID(c.Request.Context(), tenantFrom(c), c.Param("id"))
			if err != nil {
				respondError(c, log, err)
				return
			}
			if record == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
				return
			}
			c.JSON(http.StatusOK, record)
		})

		api.DELETE("/entities/:id", func(c *gin.Context) {
			deleted, err := svc.DeleteEntity(c.Request.Context(), tenantFrom(c), c.Param("id"))
			if err != nil {
				respondError(c, log, err)
				return
			}
			if !deleted {
				c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "deleted"})
		})

		api.PUT("/entities/:id/metadata", func(c *gin.Context) {
			var req struct {
				Metadata map[string]string `json:"metadata"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			found, err := svc.UpdateMetadata(c.Request.Context(), tenantFrom(c), c.Param("id"), req.Metadata)
			if err != nil {
				respondError(c, log, err)
				return
			}
			if !found {
				c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "updated"})
		})

		api.POST("/entities/:id/identifiers", func(c *gin.Context) {
			var req struct {
				Value string `json:"value" binding:"required"`
				Type  string `json:"type" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			link, err := svc.AddIdentifier(c.Request.Context(), tenantFrom(c), c.Param("id"), req.Value, req.Type)
			if err != nil {
				respondError(c, log, err)
				return
			}
			if link == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
				return
			}
			c.JSON(http.StatusCreated, link)
		})

		api.POST("/entities/:id/facts", func(c *gin.Context) {
			var req knowledge.AddFactRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			result, err := svc.AddFact(c.Request.Context(), tenantFrom(c), c.Param("id"), req)
			if err != nil {
				respondError(c, log, err)
				return
			}
			if result == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
				return
			}
			c.JSON(http.StatusCreated, result)
		})

		api.DELETE("/entities/:id/facts/:factID", func(c *gin.Context) {
			removed, err := svc.RemoveFact(c.Request.Context(), tenantFrom(c), c.Param("id"), c.Param("factID"))
			if err != nil {
				respondError(c, log, err)
				return
			}
			if !removed {
				c.JSON(http.StatusNotFound, gin.H{"error": "fact relationship not found"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "removed"})
		})

		api.POST("/entities/:id/search", func(c *gin.Context) {
			var req knowledge.SearchRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			results, err := svc.SearchFacts(c.Request.Context(), tenantFrom(c), c.Param("id"), req)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"results": results})
		})
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// tenantMiddleware resolves the tenant scope from the X-Tenant-ID header.
// Requests without a tenant never reach the core.
func tenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader("X-Tenant-ID")
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "X-Tenant-ID header is required"})
			return
		}
		c.Set("tenant", tenant)
		c.Next()
	}
}

func tenantFrom(c *gin.Context) string {
	return c.GetString("tenant")
}

// respondError maps the error taxonomy onto HTTP statuses: validation to
// 400, conflict to 409 ("already exists"), everything else to an opaque 500
func respondError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case apperrors.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperrors.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": "entity already exists"})
	default:
		log.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
