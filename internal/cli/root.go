// Package cli wires the copy engine to the command line: plan loading,
// input parsing, snapshot files, and the validate / run / diff / schema
// commands.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mkoval/entcopy/internal/config"
	"github.com/mkoval/entcopy/internal/plan"
	"github.com/mkoval/entcopy/internal/store/sqlstore"
)

var rootCmd = &cobra.Command{
	Use:   "entcopy",
	Short: "Declarative subtree copying for relational data",
	Long: `entcopy copies an entity subtree inside one database: it walks a declarative
copy plan, resolves cross-context references, reports what cannot be matched,
and only writes once the resolution has been reviewed and confirmed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

var (
	flagPlan string
	flagDB   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagPlan, "plan", "", "Path to plan file (overrides ENTCOPY_PLAN)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Path to database file (overrides ENTCOPY_DB_PATH)")
}

// loadPlan resolves the plan path from the flag, then the environment and
// config file.
func loadPlan(cfg *config.Config) (*plan.Plan, error) {
	path := flagPlan
	if path == "" {
		path = cfg.PlanPath
	}
	if path == "" {
		return nil, fmt.Errorf("no plan file given (use --plan or ENTCOPY_PLAN)")
	}
	return plan.Load(path)
}

// openStore opens the SQLite store named by the flag or configuration and
// ensures its tables exist.
func openStore(cmd *cobra.Command, cfg *config.Config, p *plan.Plan) (*sqlstore.DB, error) {
	path := flagDB
	if path == "" {
		path = cfg.DBPath
	}
	db, err := sqlstore.Open(path, p.Schema)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(cmd.Context()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// parseInputs merges an optional YAML input file with key=value pairs from
// the command line. Command-line values stay strings; use the file for
// typed values.
func parseInputs(inputFile string, pairs []string) (map[string]any, error) {
	input := make(map[string]any)

	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		if err := yaml.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("failed to parse input file: %w", err)
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q (want key=value)", pair)
		}
		input[key] = value
	}

	return input, nil
}
