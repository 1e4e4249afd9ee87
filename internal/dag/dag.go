// Package dag topologically groups a pipeline's agent stages into execution
// levels from their dependsOn edges, using Kahn's algorithm. It is grounded
// on the teacher's reverse-adjacency topologicalLevels walk, generalized
// from a single-parent watches chain to arbitrary dependsOn lists.
package dag

import (
	"fmt"
	"sort"

	"github.com/re-cinq/agentpipe/internal/config"
)

// ExecutionGroup is one topological level: a set of stages that are
// mutually independent and may run concurrently.
type ExecutionGroup struct {
	Level  int
	Stages []config.AgentStageConfig
}

// ExecutionGraph is the ordered plan produced by Plan.
type ExecutionGraph struct {
	Groups []ExecutionGroup
}

// MaxParallelism returns the width of the widest group.
func (g ExecutionGraph) MaxParallelism() int {
	max := 0
	for _, grp := range g.Groups {
		if len(grp.Stages) > max {
			max = len(grp.Stages)
		}
	}
	return max
}

// CycleError names the stage set participating in a dependency cycle.
type CycleError struct {
	Stages []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among stages: %v", e.Stages)
}

// Warning is a non-fatal planning observation.
type Warning struct {
	Stage   string
	Message string
}

// Plan builds an ExecutionGraph from stage configs using Kahn's algorithm.
// If a cycle is detected, it returns a best-effort plan covering the
// acyclic subset plus a *CycleError naming the cyclic stages, so downstream
// error reporting has a frame to work with. Declaration order is preserved
// as the tie-break within a level for deterministic execution traces.
func Plan(stages []config.AgentStageConfig) (ExecutionGraph, []Warning, error) {
	byName := make(map[string]config.AgentStageConfig, len(stages))
	declOrder := make(map[string]int, len(stages))
	for i, s := range stages {
		byName[s.Name] = s
		declOrder[s.Name] = i
	}

	var warnings []Warning

	// indegree and reverse adjacency (parent -> children) built from dependsOn edges.
	indegree := make(map[string]int, len(stages))
	children := make(map[string][]string, len(stages))
	for _, s := range stages {
		if _, ok := indegree[s.Name]; !ok {
			indegree[s.Name] = 0
		}
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				// Unknown dependsOn reference is a hard error, raised by the Validator;
				// the planner records a warning for it and leaves the edge out of
				// level computation.
				warnings = append(warnings, Warning{Stage: s.Name, Message: fmt.Sprintf("depends on unknown stage %q", dep)})
				continue
			}
			indegree[s.Name]++
			children[dep] = append(children[dep], s.Name)
		}
	}

	for _, s := range stages {
		if !s.IsEnabled() {
			continue
		}
		for _, dep := range s.DependsOn {
			if dependent, ok := byName[dep]; ok && !dependent.IsEnabled() {
				warnings = append(warnings, Warning{
					Stage:   s.Name,
					Message: fmt.Sprintf("depends on disabled stage %q; downstream may never run", dep),
				})
			}
		}
	}

	remaining := make(map[string]bool, len(stages))
	for name := range byName {
		remaining[name] = true
	}

	var groups []ExecutionGroup
	level := 0
	work := make(map[string]int, len(indegree))
	for k, v := range indegree {
		work[k] = v
	}

	for len(remaining) > 0 {
		var ready []string
		for name := range remaining {
			if work[name] == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			break // cycle: nothing left is ready
		}
		sort.Slice(ready, func(i, j int) bool { return declOrder[ready[i]] < declOrder[ready[j]] })

		group := ExecutionGroup{Level: level}
		for _, name := range ready {
			group.Stages = append(group.Stages, byName[name])
			delete(remaining, name)
		}
		groups = append(groups, group)
		level++

		for _, name := range ready {
			for _, child := range children[name] {
				work[child]--
			}
		}
	}

	graph := ExecutionGraph{Groups: groups}
	if len(remaining) > 0 {
		cyclic := make([]string, 0, len(remaining))
		for name := range remaining {
			cyclic = append(cyclic, name)
		}
		sort.Strings(cyclic)
		return graph, warnings, &CycleError{Stages: cyclic}
	}
	return graph, warnings, nil
}
