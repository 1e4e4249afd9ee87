package fileutil

import "path/filepath"

// AgentPipelineSubdir builds a path to a subdirectory within .agent-pipeline.
func AgentPipelineSubdir(repoDir, subdir string) string {
	return filepath.Join(repoDir, ".agent-pipeline", subdir)
}
