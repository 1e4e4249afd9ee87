// Package validate implements the pipeline Validator: a priority-ordered
// set of rules producing field-scoped errors and warnings. Grounded on the
// teacher's internal/config.Validate/ValidateGates (required-field checks,
// duplicate-name detection, cycle detection), generalized to the full rule
// set of the specification, including the semver schema-version bound
// check and the condition syntax check delegated to internal/condition.
package validate

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/re-cinq/agentpipe/internal/condition"
	"github.com/re-cinq/agentpipe/internal/config"
	"github.com/re-cinq/agentpipe/internal/dag"
)

// Severity classifies a Finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one validator result.
type Finding struct {
	Field      string
	Severity   Severity
	Message    string
	Suggestion string
}

// Result is the full set of findings from one Validate call.
type Result struct {
	Findings []Finding
}

// HasErrors reports whether any finding is an error (as opposed to warning).
func (r Result) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (r *Result) addError(field, msg, suggestion string) {
	r.Findings = append(r.Findings, Finding{Field: field, Severity: SeverityError, Message: msg, Suggestion: suggestion})
}

func (r *Result) addWarning(field, msg, suggestion string) {
	r.Findings = append(r.Findings, Finding{Field: field, Severity: SeverityWarning, Message: msg, Suggestion: suggestion})
}

const maxSupportedSchema = "1.x"

var slackWebhookRE = regexp.MustCompile(`^https://hooks\.slack\.com/`)

// Options carries the environment-dependent toggles the Validator needs to
// check feature preconditions (API key presence, gh CLI availability) —
// only exercised when the relevant feature is actually enabled.
type Options struct {
	RepoDir     string
	HasAPIKey   bool
	GHAvailable func() bool
}

// Validate runs every rule against cfg and returns the accumulated findings.
func Validate(cfg *config.PipelineConfig, opts Options) Result {
	var result Result

	validateName(cfg, &result)
	validateTrigger(cfg, &result)
	validateAgents(cfg, opts, &result)
	validateDependsOnCycles(cfg, &result)
	validateSettings(cfg, &result)
	validateGit(cfg, opts, &result)
	validateNotifications(cfg, &result)
	validateSchemaVersion(cfg, &result)

	return result
}

func validateName(cfg *config.PipelineConfig, r *Result) {
	if cfg.Name == "" {
		r.addError("name", "pipeline name is required", "")
		return
	}
	if !config.ValidStageName(cfg.Name) {
		r.addError("name", fmt.Sprintf("pipeline name %q must match [A-Za-z][A-Za-z0-9_-]*", cfg.Name), "")
	}
}

func validateTrigger(cfg *config.PipelineConfig, r *Result) {
	switch cfg.Trigger {
	case config.TriggerManual, config.TriggerPreCommit, config.TriggerPostCommit, config.TriggerPrePush, config.TriggerPostMerge:
	default:
		r.addError("trigger", fmt.Sprintf("unknown trigger kind %q", cfg.Trigger), "")
	}
}

func validateAgents(cfg *config.PipelineConfig, opts Options, r *Result) {
	if len(cfg.Agents) == 0 {
		r.addError("agents", "pipeline must declare at least one agent stage", "")
		return
	}

	seen := make(map[string]bool, len(cfg.Agents))
	names := cfg.NameSet()

	for _, stage := range cfg.Agents {
		field := fmt.Sprintf("agents[%s]", stage.Name)

		if stage.Name == "" {
			r.addError(field, "stage name is required", "")
		} else if !config.ValidStageName(stage.Name) {
			r.addError(field, fmt.Sprintf("stage name %q must match [A-Za-z][A-Za-z0-9_-]*", stage.Name), "")
		}
		if seen[stage.Name] {
			r.addError(field, fmt.Sprintf("duplicate stage name %q", stage.Name), "")
		}
		seen[stage.Name] = true

		for _, dep := range stage.DependsOn {
			if !names[dep] {
				r.addError(field, fmt.Sprintf("dependsOn references unknown stage %q", dep), "")
			}
		}

		if stage.Agent == "" {
			r.addError(field, "agent file path is required", "")
		} else if opts.RepoDir != "" {
			path := filepath.Join(opts.RepoDir, ".agent-pipeline", "agents", stage.Agent)
			if _, err := os.Stat(path); err != nil {
				r.addError(field, fmt.Sprintf("agent file %q not found", stage.Agent), "create it under .agent-pipeline/agents/")
			}
		}

		switch stage.OnFail {
		case "", config.OnFailStop, config.OnFailContinue, config.OnFailWarn:
		default:
			r.addError(field, fmt.Sprintf("unknown onFail value %q", stage.OnFail), "")
		}

		if stage.TimeoutSec < 0 {
			r.addError(field, "timeout must be >= 0", "")
		} else if stage.TimeoutSec > 900 {
			r.addWarning(field, fmt.Sprintf("timeout of %ds exceeds the recommended 900s ceiling", stage.TimeoutSec), "")
		}

		if stage.Retry != nil {
			if stage.Retry.MaxAttempts > 10 {
				r.addError(field, "retry.maxAttempts must be <= 10", "")
			}
			if stage.Retry.DelaySec > 300 {
				r.addError(field, "retry.delay must be <= 300 seconds", "")
			}
		}

		if stage.Condition != "" {
			if err := condition.ValidateExpression(stage.Condition); err != nil {
				r.addError(field, err.Error(), "")
			} else {
				for _, ref := range condition.ExtractStageReferences(stage.Condition) {
					if !names[ref] {
						r.addError(field, fmt.Sprintf("condition references unknown stage %q", ref), "")
					}
				}
			}
		}
	}
}

func validateDependsOnCycles(cfg *config.PipelineConfig, r *Result) {
	_, _, err := dag.Plan(cfg.Agents)
	if err == nil {
		return
	}
	if cycleErr, ok := err.(*dag.CycleError); ok {
		r.addError("agents", fmt.Sprintf("dependency cycle among stages: %s", strings.Join(cycleErr.Stages, ", ")), "")
	}
}

func validateSettings(cfg *config.PipelineConfig, r *Result) {
	switch cfg.Settings.ExecutionMode {
	case "", config.ExecutionParallel, config.ExecutionSequential:
	default:
		r.addError("settings.executionMode", fmt.Sprintf("unknown execution mode %q", cfg.Settings.ExecutionMode), "")
	}
	switch cfg.Settings.FailureStrategy {
	case "", config.OnFailStop, config.OnFailContinue, config.OnFailWarn:
	default:
		r.addError("settings.failureStrategy", fmt.Sprintf("unknown failure strategy %q", cfg.Settings.FailureStrategy), "")
	}

	if cfg.Settings.Commit.AutoCommit && !strings.Contains(cfg.Settings.Commit.Prefix, "{{stage}}") {
		r.addWarning("settings.commit.prefix", "commit prefix should contain {{stage}}", "")
	}

	cr := cfg.Settings.ContextReduction
	if cr.MaxTokens < 0 || cr.TriggerThreshold < 0 {
		r.addError("settings.contextReduction", "maxTokens and triggerThreshold must be >= 0", "")
	}
	if cr.MaxTokens > 0 && cr.TriggerThreshold > cr.MaxTokens {
		r.addError("settings.contextReduction.triggerThreshold", "triggerThreshold must be <= maxTokens", "")
	}

	switch cfg.Settings.PermissionMode {
	case "", config.PermissionDefault, config.PermissionAcceptEdits:
	case config.PermissionBypassPermissions:
		r.addWarning("settings.permissionMode", "bypassPermissions disables agent tool confirmation prompts", "")
	default:
		r.addError("settings.permissionMode", fmt.Sprintf("unknown permission mode %q", cfg.Settings.PermissionMode), "")
	}
}

func validateGit(cfg *config.PipelineConfig, opts Options, r *Result) {
	switch cfg.Git.Strategy {
	case "", config.BranchReusable, config.BranchEphemeral, config.BranchNone:
	default:
		r.addError("git.strategy", fmt.Sprintf("unknown branch strategy %q", cfg.Git.Strategy), "")
	}

	if cfg.Git.CreatePR {
		if !opts.HasAPIKey {
			r.addError("git.createPR", "PR auto-create requires an API key (ANTHROPIC_API_KEY or CLAUDE_API_KEY)", "")
		}
		ghOK := opts.GHAvailable != nil && opts.GHAvailable()
		if !ghOK {
			r.addError("git.createPR", "PR auto-create requires the gh CLI installed and authenticated", "install gh and run `gh auth login`")
		}
	}
}

func validateNotifications(cfg *config.PipelineConfig, r *Result) {
	if cfg.Notifications == nil {
		return
	}
	if cfg.Notifications.Slack != nil && cfg.Notifications.Slack.WebhookURL != "" {
		if !slackWebhookRE.MatchString(cfg.Notifications.Slack.WebhookURL) {
			r.addError("notifications.slack.webhookUrl", "Slack webhook URL must start with https://hooks.slack.com/", "")
		}
	}
}

func validateSchemaVersion(cfg *config.PipelineConfig, r *Result) {
	if cfg.APIVersion == "" {
		return
	}
	v, err := semver.NewVersion(cfg.APIVersion)
	if err != nil {
		r.addError("apiVersion", fmt.Sprintf("invalid apiVersion %q: %v", cfg.APIVersion, err), "")
		return
	}
	constraint, err := semver.NewConstraint(maxSupportedSchema)
	if err != nil {
		return
	}
	if !constraint.Check(v) {
		r.addError("apiVersion", fmt.Sprintf("apiVersion %s is not compatible with supported schema %s", cfg.APIVersion, maxSupportedSchema), "")
	}
}

// GHAuthenticated shells out to `gh auth status` to check CLI availability
// and authentication, used as the default Options.GHAvailable.
func GHAuthenticated() bool {
	if _, err := exec.LookPath("gh"); err != nil {
		return false
	}
	return exec.Command("gh", "auth", "status").Run() == nil
}
