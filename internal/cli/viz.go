package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/re-cinq/agentpipe/internal/dag"
)

func init() {
	rootCmd.AddCommand(vizCmd)
}

var vizCmd = &cobra.Command{
	Use:   "viz <pipeline-file>",
	Short: "Visualize the stage dependency graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, _ := resolveRepo(args[0])
		cfg, err := loadAndValidateConfig(args[0], repoDir)
		if err != nil {
			return err
		}

		graph, warnings, planErr := dag.Plan(cfg.Agents)
		for _, w := range warnings {
			fmt.Printf("warning: %s: %s\n", w.Stage, w.Message)
		}
		printGraph(graph)
		if planErr != nil {
			return planErr
		}
		return nil
	},
}

func printGraph(graph dag.ExecutionGraph) {
	for _, group := range graph.Groups {
		fmt.Printf("[level %d]\n", group.Level)
		for i, s := range group.Stages {
			connector := "├── "
			if i == len(group.Stages)-1 {
				connector = "└── "
			}
			label := s.Name
			if !s.IsEnabled() {
				label += " (disabled)"
			}
			if len(s.DependsOn) > 0 {
				label += fmt.Sprintf("  (depends on %v)", s.DependsOn)
			}
			fmt.Printf("%s%s\n", connector, label)
		}
	}
}
