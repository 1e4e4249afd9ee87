package acceptance_test

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// writeScriptAgent writes an executable shell script named agentName under
// tmpDir/bin and registers it under .agent-pipeline/agents, so it can serve
// as both the PATH command the Stage Executor invokes and the agent prompt
// file the Validator and Stage Executor resolve. The script discards its
// piped prompt and appends a unique line to review-output.txt in its working
// directory, giving each run a real uncommitted change to commit.
func writeScriptAgent(repoDir, tmpDir, agentName string) string {
	writeAgentFile(repoDir, agentName, "Review the diff for correctness.")

	scriptDir := filepath.Join(tmpDir, "bin")
	writeFile(filepath.Join(scriptDir, agentName), "#!/bin/sh\ncat > /dev/null\ndate +%s%N >> review-output.txt\n")
	Expect(os.Chmod(filepath.Join(scriptDir, agentName), 0755)).To(Succeed())
	return scriptDir
}

func runWithScriptPath(scriptDir string, args ...string) ([]byte, error) {
	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PATH=%s:%s", scriptDir, os.Getenv("PATH")))
	return cmd.CombinedOutput()
}

var _ = Describe("agentpipe run --once", func() {
	var tmpDir, repoDir, configPath string

	BeforeEach(func() {
		repoDir, tmpDir = newTestRepo()
		configPath = filepath.Join(repoDir, "pipeline.yaml")
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	Context("with the mock runtime", func() {
		BeforeEach(func() {
			writeAgentFile(repoDir, "reviewer.md", "Review the diff for correctness.")
			writeFile(configPath, `
name: review
trigger: manual
agents:
  - name: review-stage
    agent: reviewer.md

git:
  strategy: reusable
  branchPrefix: "agentpipe/"
`)
		})

		It("exits with code 0", func() {
			output, err := exec.Command(binaryPath, "run", "--once", "--mock", configPath).CombinedOutput()
			Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))
		})

		It("creates the pipeline branch", func() {
			output, err := exec.Command(binaryPath, "run", "--once", "--mock", configPath).CombinedOutput()
			Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

			out := runGitOutput(repoDir, "branch", "--list", "agentpipe/review")
			Expect(out).To(ContainSubstring("agentpipe/review"))
		})

		It("records a completed run in status", func() {
			output, err := exec.Command(binaryPath, "run", "--once", "--mock", configPath).CombinedOutput()
			Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

			statusOut, err := exec.Command(binaryPath, "status", configPath).CombinedOutput()
			Expect(err).NotTo(HaveOccurred(), "output: %s", string(statusOut))
			Expect(string(statusOut)).To(ContainSubstring("completed"))
			Expect(string(statusOut)).To(ContainSubstring("review-stage"))
		})
	})

	Context("with a file-writing agent and autoCommit enabled", func() {
		var scriptDir string

		BeforeEach(func() {
			scriptDir = writeScriptAgent(repoDir, tmpDir, "reviewer")
			writeFile(configPath, `
name: review
trigger: manual
agents:
  - name: review-stage
    agent: reviewer

settings:
  commit:
    autoCommit: true
    prefix: "[{{stage}}] "

git:
  strategy: reusable
  branchPrefix: "agentpipe/"
  isolate: true
`)
		})

		It("commits the stage output with the configured prefix", func() {
			output, err := runWithScriptPath(scriptDir, "run", "--once", configPath)
			Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

			msg := runGitOutput(repoDir, "log", "-1", "--format=%s", "agentpipe/review")
			Expect(msg).To(ContainSubstring("[review-stage]"))
		})

		It("includes the Pipeline-Stage trailer", func() {
			output, err := runWithScriptPath(scriptDir, "run", "--once", configPath)
			Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

			msg := runGitOutput(repoDir, "log", "-1", "--format=%B", "agentpipe/review")
			Expect(msg).To(ContainSubstring("Pipeline-Stage:"))
		})

		It("reuses the same branch and adds a new commit on every run", func() {
			out1, err := runWithScriptPath(scriptDir, "run", "--once", configPath)
			Expect(err).NotTo(HaveOccurred(), "first run: %s", string(out1))
			count1 := runGitOutput(repoDir, "rev-list", "--count", "agentpipe/review")

			out2, err := runWithScriptPath(scriptDir, "run", "--once", configPath)
			Expect(err).NotTo(HaveOccurred(), "second run: %s", string(out2))
			count2 := runGitOutput(repoDir, "rev-list", "--count", "agentpipe/review")

			Expect(count2).NotTo(Equal(count1), "second run should add its own commit on the reusable branch")
		})
	})
})
