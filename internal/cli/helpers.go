package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/re-cinq/agentpipe/internal/config"
)

// loadAndValidateConfig loads a pipeline file and validates it, printing
// findings to stderr. Validation errors (not warnings) fail the load.
func loadAndValidateConfig(path string, repoDir string) (*config.PipelineConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return nil, err
	}

	result := runValidate(cfg, repoDir)
	printFindings(result)
	if result.HasErrors() {
		return nil, fmt.Errorf("pipeline configuration has validation errors")
	}
	return cfg, nil
}

// resolveRepo finds the git repository root from a pipeline file path.
func resolveRepo(configArg string) (string, error) {
	configPath, err := filepath.Abs(configArg)
	if err != nil {
		return "", err
	}
	repoDir := findGitRoot(filepath.Dir(configPath))
	if repoDir == "" {
		return "", fmt.Errorf("could not find git repository root")
	}
	return repoDir, nil
}

// findGitRoot walks up from dir looking for a .git directory.
func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
