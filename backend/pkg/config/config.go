package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Qdrant
	QdrantHost           string
	QdrantPort           int
	QdrantUseTLS         bool
	QdrantAPIKey         string
	QdrantCollection     string
	QdrantRequestTimeout time.Duration

	// Embeddings
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	EmbeddingModel     string
	EmbeddingDimension int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  getEnv("ENV", "development"),
		Neo4jURI:             getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:            getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:        getEnv("NEO4J_PASSWORD", "password"),
		QdrantHost:           getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:           getEnvInt("QDRANT_PORT", 6334),
		QdrantUseTLS:         getEnvBool("QDRANT_USE_TLS", false),
		QdrantAPIKey:         getEnv("QDRANT_API_KEY", ""),
		QdrantCollection:     getEnv("QDRANT_COLLECTION", "semantic_memories"),
		QdrantRequestTimeout: time.Duration(getEnvInt("QDRANT_REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", ""),
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension:   getEnvInt("EMBEDDING_DIMENSION", 1536),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Neo4jURI == "" {
		return fmt.Errorf("NEO4J_URI is required")
	}
	if c.Neo4jUser == "" {
		return fmt.Errorf("NEO4J_USER is required")
	}
	if c.Neo4jPassword == "" {
		return fmt.Errorf("NEO4J_PASSWORD is required")
	}
	if c.QdrantHost == "" {
		return fmt.Errorf("QDRANT_HOST is required")
	}
	if c.QdrantPort <= 0 || c.QdrantPort > 65535 {
		return fmt.Errorf("QDRANT_PORT must be 1-65535, got %d", c.QdrantPort)
	}
	if c.QdrantCollection == "" {
		return fmt.Errorf("QDRANT_COLLECTION is required")
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("EMBEDDING_MODEL is required")
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}
	// OpenAI API key is optional in development (local gateways accept any key)
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}
