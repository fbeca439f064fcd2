package cli

import (
	"github.com/spf13/cobra"

	"github.com/mkoval/entcopy/internal/snapshot"
)

var diffCmd = &cobra.Command{
	Use:   "diff <from> <to>",
	Short: "Show what changed between two resolution snapshots",
	Long: `Diff compares two snapshot files and prints a unified diff of their
resolution state. Timestamps and revision hashes are ignored; an empty
diff means a confirmed run would not be rejected for drift.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	from, err := snapshot.ReadFile(args[0])
	if err != nil {
		return err
	}
	to, err := snapshot.ReadFile(args[1])
	if err != nil {
		return err
	}

	text, err := snapshot.Diff(from, to, args[0], args[1])
	if err != nil {
		return err
	}
	if text == "" {
		cmd.Println("snapshots are identical")
		return nil
	}
	cmd.Print(text)
	return nil
}
