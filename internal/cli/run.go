package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mkoval/entcopy/internal/config"
	"github.com/mkoval/entcopy/internal/engine"
	"github.com/mkoval/entcopy/internal/snapshot"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Validate and, if admitted, execute the copy",
	Long: `Run repeats validation and then executes the copy inside one transaction.
Without --confirm it only proceeds when every reference resolved and nothing
was left out. With --confirm it also proceeds on an incomplete resolution,
but only if the current resolution still matches the reviewed snapshot
(--snapshot), so nothing slips in between review and write.`,
	RunE: runRun,
}

var (
	runInputs    []string
	runInputFile string
	runConfirm   bool
	runSnapshot  string
	runOut       string
	runCanonical bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "Input parameter as key=value (repeatable)")
	runCmd.Flags().StringVar(&runInputFile, "input-file", "", "YAML file with input parameters")
	runCmd.Flags().BoolVar(&runConfirm, "confirm", false, "Proceed despite unmatched or left-out entities")
	runCmd.Flags().StringVar(&runSnapshot, "snapshot", "", "Reviewed snapshot the current resolution must still match")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "Write the outcome snapshot here")
	runCmd.Flags().BoolVar(&runCanonical, "canonical", false, "Write the compact canonical form")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	p, err := loadPlan(cfg)
	if err != nil {
		return err
	}

	input, err := parseInputs(runInputFile, runInputs)
	if err != nil {
		return err
	}

	req := &engine.Request{Input: input, Config: p.Config, ConfirmWrite: runConfirm}
	var prior *snapshot.Snapshot
	if runSnapshot != "" {
		prior, err = snapshot.ReadFile(runSnapshot)
		if err != nil {
			return err
		}
		req.PriorRefMap = prior.RefMap
		req.PriorIgnored = prior.Ignored
	}

	db, err := openStore(cmd, cfg, p)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := engine.New(p.Schema, db, req).Run(cmd.Context())
	if err != nil {
		return err
	}

	if runOut != "" {
		rev, err := snapshot.WriteFile(snapshot.FromResult(res), snapshot.WriteOptions{
			Path:      runOut,
			Canonical: runCanonical || cfg.Canonical,
		})
		if err != nil {
			return err
		}
		cmd.Printf("snapshot written to %s (%s)\n", runOut, rev)
	}

	if !res.Success {
		printResolution(cmd, res)
		if prior != nil && isDriftReason(res.Reason) {
			text, err := snapshot.Diff(prior, snapshot.FromResult(res), runSnapshot, "current")
			if err != nil {
				return err
			}
			cmd.Print(text)
		}
		return fmt.Errorf("copy aborted: %s", res.Reason)
	}

	created := 0
	for _, typeName := range sortedCreatedKeys(res.Created) {
		n := len(res.Created[typeName])
		created += n
		cmd.Printf("%s: %d copied\n", typeName, n)
	}
	cmd.Printf("done: %d entities created\n", created)
	return nil
}

func isDriftReason(reason engine.AbortReason) bool {
	return reason == engine.AbortDataChangedRefMap || reason == engine.AbortDataChangedIgnored
}

func sortedRefMapKeys(m engine.RefMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFieldKeys(m map[string]engine.FieldRefMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedIgnoredKeys(m engine.IgnoredMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCreatedKeys(m engine.OutputMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
