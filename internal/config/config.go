// Package config loads and parses pipeline YAML files into the
// PipelineConfig data model described in the pipeline specification.
// It mirrors the teacher's YAML-first configuration style: defaults are
// applied after unmarshal, not baked into struct tags.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// TriggerKind enumerates how a pipeline may be invoked.
type TriggerKind string

const (
	TriggerManual     TriggerKind = "manual"
	TriggerPreCommit  TriggerKind = "pre-commit"
	TriggerPostCommit TriggerKind = "post-commit"
	TriggerPrePush    TriggerKind = "pre-push"
	TriggerPostMerge  TriggerKind = "post-merge"
)

// OnFail enumerates a stage's failure-handling strategy.
type OnFail string

const (
	OnFailStop     OnFail = "stop"
	OnFailContinue OnFail = "continue"
	OnFailWarn     OnFail = "warn"
)

// ExecutionMode controls whether a group of independent stages runs in
// parallel or strictly in sequence.
type ExecutionMode string

const (
	ExecutionParallel   ExecutionMode = "parallel"
	ExecutionSequential ExecutionMode = "sequential"
)

// BranchStrategy controls how the Branch/Worktree Manager isolates a run.
type BranchStrategy string

const (
	BranchReusable  BranchStrategy = "reusable"
	BranchEphemeral BranchStrategy = "ephemeral"
	BranchNone      BranchStrategy = "none"
)

// Retry describes a stage's retry policy.
type Retry struct {
	MaxAttempts int `yaml:"maxAttempts"`
	DelaySec    int `yaml:"delay"`
}

// AgentStageConfig is one unit of LLM work in a pipeline.
type AgentStageConfig struct {
	Name       string   `yaml:"name"`
	Agent      string   `yaml:"agent"`
	DependsOn  []string `yaml:"dependsOn,omitempty"`
	Enabled    *bool    `yaml:"enabled,omitempty"`
	Condition  string   `yaml:"condition,omitempty"`
	OnFail     OnFail   `yaml:"onFail,omitempty"`
	TimeoutSec int      `yaml:"timeout,omitempty"`
	Retry      *Retry   `yaml:"retry,omitempty"`
}

// IsEnabled reports whether the stage is enabled; undefined counts as enabled.
func (a AgentStageConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// CommitPolicy controls whether the Stage Executor commits after a stage succeeds.
type CommitPolicy struct {
	AutoCommit bool   `yaml:"autoCommit"`
	Prefix     string `yaml:"prefix,omitempty"`
}

// ContextReductionPolicy bounds the size of assembled stage prompts.
type ContextReductionPolicy struct {
	Strategy         string   `yaml:"strategy,omitempty"`
	MaxTokens        int      `yaml:"maxTokens,omitempty"`
	TriggerThreshold int      `yaml:"triggerThreshold,omitempty"`
	IgnorePatterns   []string `yaml:"ignorePatterns,omitempty"`
}

// PermissionMode mirrors the agent runtime's permission surface.
type PermissionMode string

const (
	PermissionDefault           PermissionMode = "default"
	PermissionAcceptEdits       PermissionMode = "acceptEdits"
	PermissionBypassPermissions PermissionMode = "bypassPermissions"
)

// Settings holds pipeline-wide execution defaults.
type Settings struct {
	ExecutionMode    ExecutionMode          `yaml:"executionMode,omitempty"`
	FailureStrategy  OnFail                 `yaml:"failureStrategy,omitempty"`
	Commit           CommitPolicy           `yaml:"commit,omitempty"`
	ContextReduction ContextReductionPolicy `yaml:"contextReduction,omitempty"`
	PermissionMode   PermissionMode         `yaml:"permissionMode,omitempty"`
	DefaultTimeout   int                    `yaml:"defaultTimeout,omitempty"`
}

// BranchPolicy controls worktree/branch isolation for a run.
type BranchPolicy struct {
	Strategy     BranchStrategy `yaml:"strategy,omitempty"`
	BranchPrefix string         `yaml:"branchPrefix,omitempty"`
	Base         string         `yaml:"base,omitempty"`
	Isolate      bool           `yaml:"isolate,omitempty"`
	Push         bool           `yaml:"push,omitempty"`
	CreatePR     bool           `yaml:"createPR,omitempty"`
	Preserve     bool           `yaml:"preserveWorkingTree,omitempty"`
}

// SlackNotificationConfig configures the Slack notification channel.
type SlackNotificationConfig struct {
	WebhookURL string `yaml:"webhookUrl,omitempty"`
	Channel    string `yaml:"channel,omitempty"`
}

// EmailNotificationConfig configures the email notification channel.
type EmailNotificationConfig struct {
	SMTPHost string   `yaml:"smtpHost,omitempty"`
	SMTPPort int      `yaml:"smtpPort,omitempty"`
	From     string   `yaml:"from,omitempty"`
	To       []string `yaml:"to,omitempty"`
}

// NotificationPolicy lists enabled notification channels.
type NotificationPolicy struct {
	Slack *SlackNotificationConfig `yaml:"slack,omitempty"`
	Email *EmailNotificationConfig `yaml:"email,omitempty"`
	Local bool                     `yaml:"local,omitempty"`
}

// LoopingPolicy enables the outer Loop Scheduler for this pipeline.
type LoopingPolicy struct {
	Enabled       bool `yaml:"enabled,omitempty"`
	MaxIterations int  `yaml:"maxIterations,omitempty"`
}

// PipelineConfig is the parsed form of a pipeline YAML file.
type PipelineConfig struct {
	APIVersion    string              `yaml:"apiVersion,omitempty"`
	Name          string              `yaml:"name"`
	Trigger       TriggerKind         `yaml:"trigger"`
	Agents        []AgentStageConfig  `yaml:"agents"`
	Settings      Settings            `yaml:"settings,omitempty"`
	Git           BranchPolicy        `yaml:"git,omitempty"`
	Notifications *NotificationPolicy `yaml:"notifications,omitempty"`
	Looping       *LoopingPolicy      `yaml:"looping,omitempty"`
}

// EffectiveFailureStrategy returns the pipeline-level failure strategy with
// its default applied.
func (c *PipelineConfig) EffectiveFailureStrategy() OnFail {
	if c.Settings.FailureStrategy == "" {
		return OnFailStop
	}
	return c.Settings.FailureStrategy
}

// EffectiveExecutionMode returns the pipeline-level execution mode with its
// default applied. Default is parallel, per specification.
func (c *PipelineConfig) EffectiveExecutionMode() ExecutionMode {
	if c.Settings.ExecutionMode == "" {
		return ExecutionParallel
	}
	return c.Settings.ExecutionMode
}

// StageStrategy resolves the effective onFail strategy for a stage:
// stage.onFail ?? pipeline.failureStrategy ?? "stop".
func (c *PipelineConfig) StageStrategy(stage AgentStageConfig) OnFail {
	if stage.OnFail != "" {
		return stage.OnFail
	}
	return c.EffectiveFailureStrategy()
}

// FindStage returns the stage config with the given name, if present.
func (c *PipelineConfig) FindStage(name string) (AgentStageConfig, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentStageConfig{}, false
}

// NameSet returns the set of declared stage names.
func (c *PipelineConfig) NameSet() map[string]bool {
	set := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		set[a.Name] = true
	}
	return set
}

// Load reads and parses a pipeline YAML file from disk.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline config: %w", err)
	}
	return Parse(data)
}

// Parse unmarshals pipeline YAML bytes and applies defaults.
func Parse(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing pipeline YAML: %w", err)
	}

	if cfg.Trigger == "" {
		cfg.Trigger = TriggerManual
	}
	if cfg.Git.BranchPrefix == "" {
		cfg.Git.BranchPrefix = "agent-pipeline/"
	}
	if cfg.Git.Strategy == "" {
		cfg.Git.Strategy = BranchNone
	}
	if cfg.Settings.Commit.Prefix == "" {
		cfg.Settings.Commit.Prefix = "[pipeline:{{stage}}]"
	}

	return &cfg, nil
}

// stageNameRE is the name pattern required by the specification.
var stageNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ValidStageName reports whether name matches the required stage-name grammar.
func ValidStageName(name string) bool {
	return stageNameRE.MatchString(name)
}
