package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/re-cinq/agentpipe/internal/config"
	"github.com/re-cinq/agentpipe/internal/validate"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate <pipeline-file>",
	Short: "Validate a pipeline file without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return err
		}

		repoDir, _ := resolveRepo(args[0])
		result := runValidate(cfg, repoDir)
		printFindings(result)
		if result.HasErrors() {
			return fmt.Errorf("pipeline configuration has validation errors")
		}
		fmt.Println("pipeline configuration is valid")
		return nil
	},
}

// runValidate wires environment-dependent checks (API key presence, gh CLI)
// into validate.Validate.
func runValidate(cfg *config.PipelineConfig, repoDir string) validate.Result {
	_, hasAnthropic := os.LookupEnv("ANTHROPIC_API_KEY")
	_, hasClaude := os.LookupEnv("CLAUDE_API_KEY")
	opts := validate.Options{
		RepoDir:     repoDir,
		HasAPIKey:   hasAnthropic || hasClaude,
		GHAvailable: validate.GHAuthenticated,
	}
	return validate.Validate(cfg, opts)
}

func printFindings(result validate.Result) {
	for _, f := range result.Findings {
		label := "warning"
		if f.Severity == validate.SeverityError {
			label = "error"
		}
		if f.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "%s: %s: %s (%s)\n", label, f.Field, f.Message, f.Suggestion)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", label, f.Field, f.Message)
		}
	}
}
