package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	DBPath       string `yaml:"db_path"`
	PlanPath     string `yaml:"plan_path"`
	SnapshotPath string `yaml:"snapshot_path"`
	LogLevel     string `yaml:"log_level"`
	Canonical    bool   `yaml:"canonical"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/entcopy/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:     "info",
		SnapshotPath: "entcopy.snapshot.json",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// ~/.config/entcopy/config.yaml is optional
	_ = loadYAMLConfig(cfg)

	// Override with environment variables
	if dbPath := getEnvOrFile("ENTCOPY_DB_PATH", "ENTCOPY_DB_PATH_FILE"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if planPath := os.Getenv("ENTCOPY_PLAN"); planPath != "" {
		cfg.PlanPath = planPath
	}
	if snapshotPath := os.Getenv("ENTCOPY_SNAPSHOT"); snapshotPath != "" {
		cfg.SnapshotPath = snapshotPath
	}
	if logLevel := os.Getenv("ENTCOPY_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if cfg.DBPath == "" {
		cfg.DBPath = "entcopy.db"
	}

	return cfg, nil
}

// loadYAMLConfig loads configuration from ~/.config/entcopy/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "entcopy", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return string(data)
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, just check cwd
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Clean paths for reliable comparison
	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		// Stop if we've reached home directory
		if dir == homeDir {
			break
		}

		// Get parent directory
		parent := filepath.Dir(dir)

		// Stop if we've reached the filesystem root
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
