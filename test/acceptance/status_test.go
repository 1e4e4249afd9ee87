package acceptance_test

import (
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("agentpipe status", func() {
	var tmpDir, repoDir, configPath string

	BeforeEach(func() {
		repoDir, tmpDir = newTestRepo()
		configPath = filepath.Join(repoDir, "pipeline.yaml")
		writeAgentFile(repoDir, "reviewer.md", "Review the diff for correctness.")
		writeFile(configPath, `
name: review
trigger: manual
agents:
  - name: review-stage
    agent: reviewer.md
`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	Context("before any run", func() {
		It("reports that no runs have been recorded", func() {
			output, err := exec.Command(binaryPath, "status", configPath).CombinedOutput()
			Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))
			Expect(string(output)).To(ContainSubstring("no runs recorded"))
		})
	})
})
