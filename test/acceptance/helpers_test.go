package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// newTestRepo initializes a throwaway git repository with one commit on
// main, returning its directory and the enclosing temp dir to clean up.
func newTestRepo() (repoDir, tmpDir string) {
	var err error
	tmpDir, err = os.MkdirTemp("", "agentpipe-test-*")
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	repoDir = filepath.Join(tmpDir, "repo")
	runGit(tmpDir, "init", repoDir)
	runGit(repoDir, "checkout", "-b", "main")
	writeFile(filepath.Join(repoDir, "hello.txt"), "hello world\n")
	runGit(repoDir, "add", "hello.txt")
	runGit(repoDir, "commit", "-m", "initial commit")
	return repoDir, tmpDir
}

func runGit(dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.com",
	)
	out, err := cmd.CombinedOutput()
	ExpectWithOffset(2, err).NotTo(HaveOccurred(), "git %v: %s", args, string(out))
}

func runGitOutput(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	ExpectWithOffset(2, err).NotTo(HaveOccurred(), "git %v: %s", args, string(out))
	return string(out)
}

func writeFile(path, content string) {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	ExpectWithOffset(2, err).NotTo(HaveOccurred())
	err = os.WriteFile(path, []byte(content), 0644)
	ExpectWithOffset(2, err).NotTo(HaveOccurred())
}

// writeAgentFile writes a stage's agent prompt file under the repo's
// .agent-pipeline/agents directory, the path the Validator and the Stage
// Executor both resolve agent names against.
func writeAgentFile(repoDir, name, prompt string) {
	writeFile(filepath.Join(repoDir, ".agent-pipeline", "agents", name), prompt)
}
