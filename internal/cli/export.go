package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/re-cinq/agentpipe/internal/dag"
)

var exportFormat string

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "dot", "Output format: dot or json")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export <pipeline-file>",
	Short: "Export the stage dependency graph as dot or json",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, _ := resolveRepo(args[0])
		cfg, err := loadAndValidateConfig(args[0], repoDir)
		if err != nil {
			return err
		}

		graph, _, planErr := dag.Plan(cfg.Agents)

		switch exportFormat {
		case "dot":
			fmt.Print(renderDot(cfg.Name, graph))
		case "json":
			if err := renderJSON(os.Stdout, graph); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown export format %q (want dot or json)", exportFormat)
		}
		return planErr
	},
}

func renderDot(name string, graph dag.ExecutionGraph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", name)
	for _, group := range graph.Groups {
		for _, s := range group.Stages {
			style := ""
			if !s.IsEnabled() {
				style = " [style=dashed]"
			}
			fmt.Fprintf(&b, "  %q%s;\n", s.Name, style)
			for _, dep := range s.DependsOn {
				fmt.Fprintf(&b, "  %q -> %q;\n", dep, s.Name)
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}

type exportStage struct {
	Name      string   `json:"name"`
	Level     int      `json:"level"`
	Enabled   bool     `json:"enabled"`
	DependsOn []string `json:"dependsOn,omitempty"`
}

func renderJSON(w *os.File, graph dag.ExecutionGraph) error {
	var stages []exportStage
	for _, group := range graph.Groups {
		for _, s := range group.Stages {
			stages = append(stages, exportStage{
				Name:      s.Name,
				Level:     group.Level,
				Enabled:   s.IsEnabled(),
				DependsOn: s.DependsOn,
			})
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stages)
}
