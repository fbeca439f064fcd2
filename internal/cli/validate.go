package cli

import (
	"github.com/spf13/cobra"

	"github.com/mkoval/entcopy/internal/config"
	"github.com/mkoval/entcopy/internal/engine"
	"github.com/mkoval/entcopy/internal/snapshot"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the read-only pass and write a resolution snapshot",
	Long: `Validate walks the copy plan without writing anything and reports which
references resolved, which did not, and which entities would be left out.
The resolution snapshot it writes is the thing to review before running
the copy with --confirm.`,
	RunE: runValidate,
}

var (
	validateInputs    []string
	validateInputFile string
	validateOut       string
	validateCanonical bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringArrayVarP(&validateInputs, "input", "i", nil, "Input parameter as key=value (repeatable)")
	validateCmd.Flags().StringVar(&validateInputFile, "input-file", "", "YAML file with input parameters")
	validateCmd.Flags().StringVarP(&validateOut, "out", "o", "", "Snapshot output path (default from config)")
	validateCmd.Flags().BoolVar(&validateCanonical, "canonical", false, "Write the compact canonical form")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	p, err := loadPlan(cfg)
	if err != nil {
		return err
	}

	input, err := parseInputs(validateInputFile, validateInputs)
	if err != nil {
		return err
	}

	db, err := openStore(cmd, cfg, p)
	if err != nil {
		return err
	}
	defer db.Close()

	copier := engine.New(p.Schema, db, &engine.Request{Input: input, Config: p.Config})
	res, err := copier.Validate(cmd.Context())
	if err != nil {
		return err
	}

	out := validateOut
	if out == "" {
		out = cfg.SnapshotPath
	}
	rev, err := snapshot.WriteFile(snapshot.FromResult(res), snapshot.WriteOptions{
		Path:      out,
		Canonical: validateCanonical || cfg.Canonical,
	})
	if err != nil {
		return err
	}

	printResolution(cmd, res)
	cmd.Printf("snapshot written to %s (%s)\n", out, rev)
	return nil
}

// printResolution summarizes a resolution snapshot: per field, how many
// references resolved, and per type, how many entities fell out.
func printResolution(cmd *cobra.Command, res *engine.Result) {
	unmatched := 0
	total := 0
	for _, typeName := range sortedRefMapKeys(res.RefMap) {
		byField := res.RefMap[typeName]
		for _, field := range sortedFieldKeys(byField) {
			frm := byField[field]
			miss := 0
			for _, v := range frm {
				if v == nil {
					miss++
				}
			}
			total += len(frm)
			unmatched += miss
			cmd.Printf("%s.%s: %d referenced, %d unmatched\n", typeName, field, len(frm), miss)
		}
	}
	if total == 0 {
		cmd.Println("no reference fields configured")
	}

	for _, typeName := range sortedIgnoredKeys(res.Ignored) {
		cmd.Printf("%s: %d entities would be left out\n", typeName, len(res.Ignored[typeName]))
	}

	switch {
	case unmatched == 0 && len(res.Ignored) == 0:
		cmd.Println("resolution clean: run can proceed without confirmation")
	default:
		cmd.Println("resolution incomplete: review the snapshot, then run with --confirm")
	}
}
