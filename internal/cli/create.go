package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/re-cinq/agentpipe/internal/config"
)

// ErrWizardCancelled is returned when the user cancels the interactive wizard.
var ErrWizardCancelled = errors.New("wizard cancelled by user")

const wizardWidth = 80

func init() {
	rootCmd.AddCommand(createCmd)
}

var createCmd = &cobra.Command{
	Use:   "create <pipeline-file>",
	Short: "Interactively build a new pipeline file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := runCreateWizard()
		if err != nil {
			if errors.Is(err, ErrWizardCancelled) {
				fmt.Println("cancelled.")
				return nil
			}
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("rendering pipeline YAML: %w", err)
		}
		if err := os.WriteFile(args[0], data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", args[0], err)
		}
		fmt.Printf("wrote %s\n", args[0])
		return nil
	},
}

// runCreateWizard walks through name/trigger/stage/execution-mode pages and
// returns the assembled PipelineConfig. Grounded on the re-cinq-pack
// reference wizard's one-huh.Form-per-page, validate-inline shape.
func runCreateWizard() (*config.PipelineConfig, error) {
	name := ""
	triggerStr := string(config.TriggerManual)
	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Pipeline name:").
				Value(&name).
				Validate(func(s string) error {
					if !config.ValidStageName(s) {
						return errors.New("must match [A-Za-z][A-Za-z0-9_-]*")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Trigger:").
				Options(
					huh.NewOption("manual", string(config.TriggerManual)),
					huh.NewOption("pre-commit", string(config.TriggerPreCommit)),
					huh.NewOption("post-commit", string(config.TriggerPostCommit)),
					huh.NewOption("pre-push", string(config.TriggerPrePush)),
					huh.NewOption("post-merge", string(config.TriggerPostMerge)),
				).
				Value(&triggerStr),
		),
	).WithTheme(huh.ThemeCharm()).WithWidth(wizardWidth).Run(); err != nil {
		return nil, mapWizardErr(err)
	}

	var stages []config.AgentStageConfig
	for {
		addAnother := len(stages) == 0
		if len(stages) > 0 {
			addAnother = false
			if err := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().Title("Add another stage?").Value(&addAnother),
			)).WithTheme(huh.ThemeCharm()).WithWidth(wizardWidth).Run(); err != nil {
				return nil, mapWizardErr(err)
			}
			if !addAnother {
				break
			}
		}

		stage, err := runStagePage(len(stages))
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}

	execModeStr := string(config.ExecutionParallel)
	if err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Execution mode for independent stages:").
			Options(
				huh.NewOption("parallel", string(config.ExecutionParallel)),
				huh.NewOption("sequential", string(config.ExecutionSequential)),
			).
			Value(&execModeStr),
	)).WithTheme(huh.ThemeCharm()).WithWidth(wizardWidth).Run(); err != nil {
		return nil, mapWizardErr(err)
	}

	return &config.PipelineConfig{
		Name:    name,
		Trigger: config.TriggerKind(triggerStr),
		Agents:  stages,
		Settings: config.Settings{
			ExecutionMode: config.ExecutionMode(execModeStr),
		},
	}, nil
}

func runStagePage(index int) (config.AgentStageConfig, error) {
	name := fmt.Sprintf("stage-%d", index+1)
	agent := ""
	dependsOnStr := ""

	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Stage name:").Value(&name).Validate(func(s string) error {
				if !config.ValidStageName(s) {
					return errors.New("must match [A-Za-z][A-Za-z0-9_-]*")
				}
				return nil
			}),
			huh.NewInput().Title("Agent file (under .agent-pipeline/agents/):").Value(&agent),
			huh.NewInput().Title("Depends on (comma-separated stage names, optional):").Value(&dependsOnStr),
		),
	).WithTheme(huh.ThemeCharm()).WithWidth(wizardWidth).Run(); err != nil {
		return config.AgentStageConfig{}, mapWizardErr(err)
	}

	var dependsOn []string
	for _, d := range strings.Split(dependsOnStr, ",") {
		if d = strings.TrimSpace(d); d != "" {
			dependsOn = append(dependsOn, d)
		}
	}

	return config.AgentStageConfig{Name: name, Agent: agent, DependsOn: dependsOn}, nil
}

func mapWizardErr(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrWizardCancelled
	}
	return fmt.Errorf("wizard: %w", err)
}
