package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/re-cinq/agentpipe/internal/config"
)

func init() {
	rootCmd.AddCommand(editCmd)
}

var editCmd = &cobra.Command{
	Use:   "edit <pipeline-file>",
	Short: "Open a pipeline file in $EDITOR and re-validate it on save",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return fmt.Errorf("edit requires an interactive terminal")
		}

		editor := os.Getenv("VISUAL")
		if editor == "" {
			editor = os.Getenv("EDITOR")
		}
		if editor == "" {
			return fmt.Errorf("neither $VISUAL nor $EDITOR is set")
		}

		editCmd := exec.Command(editor, args[0])
		editCmd.Stdin = os.Stdin
		editCmd.Stdout = os.Stdout
		editCmd.Stderr = os.Stderr
		if err := editCmd.Run(); err != nil {
			return fmt.Errorf("running %s: %w", editor, err)
		}

		cfg, err := config.Load(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return err
		}
		repoDir, _ := resolveRepo(args[0])
		result := runValidate(cfg, repoDir)
		printFindings(result)
		if result.HasErrors() {
			return fmt.Errorf("pipeline configuration has validation errors after edit")
		}
		fmt.Println("saved and validated.")
		return nil
	},
}
