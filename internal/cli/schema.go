package cli

import (
	"github.com/spf13/cobra"

	"github.com/mkoval/entcopy/internal/config"
	"github.com/mkoval/entcopy/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the plan's entity schema",
	Long: `Schema prints the entity types a plan declares, with their fields and
relations. With --init it also creates the corresponding tables in the
database, which otherwise happens lazily on first use.`,
	RunE: runSchema,
}

var schemaInit bool

func init() {
	rootCmd.AddCommand(schemaCmd)

	schemaCmd.Flags().BoolVar(&schemaInit, "init", false, "Create the tables in the database")
}

func runSchema(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	p, err := loadPlan(cfg)
	if err != nil {
		return err
	}

	for _, typeName := range p.Schema.TypeNames() {
		et := p.Schema.MustType(typeName)
		cmd.Printf("%s (table %s)\n", typeName, et.TableName())
		for _, field := range et.Fields {
			cmd.Printf("  %s\n", field)
		}
		for _, rel := range et.Relations() {
			switch rel.Kind {
			case schema.ToOne:
				nullable := ""
				if rel.Nullable {
					nullable = ", nullable"
				}
				cmd.Printf("  %s -> %s (via %s%s)\n", rel.Name, rel.Target, rel.FKField, nullable)
			case schema.ToManyOwned:
				cmd.Printf("  %s => owns %s (via %s)\n", rel.Name, rel.Target, rel.FKField)
			case schema.ToManyShared:
				cmd.Printf("  %s <=> %s (through %s)\n", rel.Name, rel.Target, rel.Junction.Type)
			}
		}
	}

	if schemaInit {
		db, err := openStore(cmd, cfg, p)
		if err != nil {
			return err
		}
		defer db.Close()
		cmd.Printf("tables created in %s\n", db.Path())
	}
	return nil
}
