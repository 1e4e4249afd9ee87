package acceptance_test

import (
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("agentpipe viz", func() {
	var tmpDir, repoDir, configPath string

	BeforeEach(func() {
		repoDir, tmpDir = newTestRepo()
		configPath = filepath.Join(repoDir, "pipeline.yaml")
		writeAgentFile(repoDir, "lint.md", "Lint the change.")
		writeAgentFile(repoDir, "security.md", "Scan for security issues.")
		writeFile(configPath, `
name: review
trigger: manual
agents:
  - name: lint
    agent: lint.md
  - name: security
    agent: security.md
    dependsOn: [lint]
`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("prints one level per dependency tier", func() {
		output, err := exec.Command(binaryPath, "viz", configPath).CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		out := string(output)
		Expect(out).To(ContainSubstring("[level 0]"))
		Expect(out).To(ContainSubstring("[level 1]"))
		Expect(out).To(ContainSubstring("lint"))
		Expect(out).To(ContainSubstring("security"))
		Expect(out).To(ContainSubstring("depends on [lint]"))
	})
})

var _ = Describe("agentpipe export", func() {
	var tmpDir, repoDir, configPath string

	BeforeEach(func() {
		repoDir, tmpDir = newTestRepo()
		configPath = filepath.Join(repoDir, "pipeline.yaml")
		writeAgentFile(repoDir, "lint.md", "Lint the change.")
		writeFile(configPath, `
name: review
trigger: manual
agents:
  - name: lint
    agent: lint.md
`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("renders a dot digraph by default", func() {
		output, err := exec.Command(binaryPath, "export", configPath).CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))
		out := string(output)
		Expect(out).To(ContainSubstring("digraph"))
		Expect(out).To(ContainSubstring(`"lint"`))
	})

	It("renders JSON when --format=json", func() {
		output, err := exec.Command(binaryPath, "export", "--format", "json", configPath).CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))
		out := string(output)
		Expect(out).To(ContainSubstring(`"name": "lint"`))
		Expect(out).To(ContainSubstring(`"level": 0`))
	})

	It("rejects an unknown format", func() {
		output, err := exec.Command(binaryPath, "export", "--format", "xml", configPath).CombinedOutput()
		Expect(err).To(HaveOccurred())
		Expect(string(output)).To(ContainSubstring("unknown export format"))
	})
})
