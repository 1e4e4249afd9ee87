// Package handover maintains the per-run directory of stage outputs and a
// merged HANDOVER.md consumed by later stages. The teacher has no direct
// analog; this is grounded on the shape of its assembleContext function
// (prompt = header + commits + diffs) and on the re-cinq-wave reference's
// HandoverConfig/ArtifactRef idea of a merged-context handoff between steps.
package handover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Manager owns one run's handover directory.
type Manager struct {
	Dir string
}

// New creates a Manager rooted at dir (typically
// .agent-pipeline/runs/<runId>/), creating it if necessary.
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating handover dir: %w", err)
	}
	return &Manager{Dir: dir}, nil
}

func (m *Manager) stageOutputPath(name string) string {
	return filepath.Join(m.Dir, name+".md")
}

// HandoverPath is the canonical merged-context file later stages read.
func (m *Manager) HandoverPath() string {
	return filepath.Join(m.Dir, "HANDOVER.md")
}

// WriteStageOutput persists a stage's raw textual output to its own file,
// independent of whatever has been merged into HANDOVER.md so far.
func (m *Manager) WriteStageOutput(name, output string) error {
	return os.WriteFile(m.stageOutputPath(name), []byte(output), 0o644)
}

// ReadStageOutput returns a stage's persisted output, or "" if absent.
func (m *Manager) ReadStageOutput(name string) (string, error) {
	data, err := os.ReadFile(m.stageOutputPath(name))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CopyStageToHandover snapshots one stage's output file into HANDOVER.md.
// Later calls win: the merged file always reflects the most recently
// completed stage's section for that name.
func (m *Manager) CopyStageToHandover(name string) error {
	output, err := m.ReadStageOutput(name)
	if err != nil {
		return fmt.Errorf("reading stage output for %s: %w", name, err)
	}
	section := renderSection(name, output)
	return m.appendOrReplaceSection(name, section)
}

// MergeParallelOutputs adds the outputs of stages that completed in one
// parallel group to HANDOVER.md as one section per stage, with
// deterministic section headers. Sections are written in stage-name order,
// not completion order, so downstream consumers see a stable HANDOVER.md
// regardless of scheduling jitter.
func (m *Manager) MergeParallelOutputs(names []string) error {
	var b strings.Builder
	for _, name := range names {
		output, err := m.ReadStageOutput(name)
		if err != nil {
			return fmt.Errorf("reading stage output for %s: %w", name, err)
		}
		b.WriteString(renderSection(name, output))
	}
	return m.appendMerged(names, b.String())
}

func renderSection(name, output string) string {
	return fmt.Sprintf("## Stage: %s\n\n%s\n\n", name, strings.TrimSpace(output))
}

// appendOrReplaceSection rewrites HANDOVER.md with the named stage's
// section replaced (or appended if not yet present).
func (m *Manager) appendOrReplaceSection(name, section string) error {
	existing, err := m.readHandover()
	if err != nil {
		return err
	}
	sections := parseSections(existing)
	sections[name] = section
	return m.writeSections(sections)
}

func (m *Manager) appendMerged(names []string, merged string) error {
	existing, err := m.readHandover()
	if err != nil {
		return err
	}
	sections := parseSections(existing)
	// One logical section per stage, so a later CopyStageToHandover for any
	// of these names still replaces cleanly.
	for name, section := range parseSections(merged) {
		sections[name] = section
	}
	return m.writeSections(sections)
}

func (m *Manager) readHandover() (string, error) {
	data, err := os.ReadFile(m.HandoverPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	return string(data), err
}

const sectionMarker = "## Stage: "

// parseSections splits an existing HANDOVER.md into a name->section map so
// individual stage sections can be replaced without disturbing others.
func parseSections(content string) map[string]string {
	sections := make(map[string]string)
	if content == "" {
		return sections
	}
	parts := strings.Split(content, sectionMarker)
	for i, part := range parts {
		// parts[0] is whatever precedes the first stage section (the
		// "# Handover" heading), not a section of its own.
		if i == 0 || strings.TrimSpace(part) == "" {
			continue
		}
		nl := strings.IndexByte(part, '\n')
		if nl < 0 {
			continue
		}
		name := strings.TrimSpace(part[:nl])
		sections[name] = sectionMarker + part
	}
	return sections
}

// writeSections renders sections in sorted-name order and writes
// HANDOVER.md atomically.
func (m *Manager) writeSections(sections map[string]string) error {
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Handover\n\n")
	for _, name := range names {
		b.WriteString(sections[name])
	}

	tmp := m.HandoverPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.HandoverPath())
}

// GetPreviousStages lists the stage output files recorded so far, in
// declaration order as passed in names (only those that actually exist).
func (m *Manager) GetPreviousStages(names []string) ([]string, error) {
	var present []string
	for _, name := range names {
		if _, err := os.Stat(m.stageOutputPath(name)); err == nil {
			present = append(present, name)
		}
	}
	return present, nil
}

// BuildContextMessage returns a prompt-ready string the Stage Executor
// prepends to an agent's prompt, built from the current HANDOVER.md plus an
// optional context-reduced list of files changed so far in the run (already
// filtered by the caller's ignore patterns).
func (m *Manager) BuildContextMessage(changedFiles []string) (string, error) {
	content, err := m.readHandover()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if content != "" {
		b.WriteString("The following is context from earlier pipeline stages:\n\n")
		b.WriteString(content)
	}
	if len(changedFiles) > 0 {
		b.WriteString("Files changed so far in this run:\n")
		for _, f := range changedFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
