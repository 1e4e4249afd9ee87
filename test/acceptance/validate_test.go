package acceptance_test

import (
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("agentpipe validate", func() {
	var tmpDir, repoDir, configPath string

	BeforeEach(func() {
		repoDir, tmpDir = newTestRepo()
		configPath = filepath.Join(repoDir, "pipeline.yaml")
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	Context("with a valid config", func() {
		BeforeEach(func() {
			writeAgentFile(repoDir, "reviewer.md", "Review the diff for correctness.")
			writeFile(configPath, `
name: review
trigger: manual
agents:
  - name: review-stage
    agent: reviewer.md
`)
		})

		It("exits with code 0", func() {
			cmd := exec.Command(binaryPath, "validate", configPath)
			Expect(cmd.Run()).NotTo(HaveOccurred())
		})

		It("prints a success message", func() {
			cmd := exec.Command(binaryPath, "validate", configPath)
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(ContainSubstring("valid"))
		})
	})

	Context("with missing required fields", func() {
		BeforeEach(func() {
			writeFile(configPath, `
trigger: manual
agents:
  - name: review-stage
`)
		})

		It("exits with a non-zero code", func() {
			cmd := exec.Command(binaryPath, "validate", configPath)
			Expect(cmd.Run()).To(HaveOccurred())
		})

		It("reports each missing field", func() {
			cmd := exec.Command(binaryPath, "validate", configPath)
			output, _ := cmd.CombinedOutput()
			out := string(output)
			Expect(out).To(ContainSubstring("pipeline name is required"))
			Expect(out).To(ContainSubstring("agent file path is required"))
		})
	})

	Context("with a cycle among stages", func() {
		BeforeEach(func() {
			writeAgentFile(repoDir, "a.md", "a")
			writeAgentFile(repoDir, "b.md", "b")
			writeFile(configPath, `
name: cyclic
trigger: manual
agents:
  - name: a
    agent: a.md
    dependsOn: [b]
  - name: b
    agent: b.md
    dependsOn: [a]
`)
		})

		It("exits with a non-zero code", func() {
			cmd := exec.Command(binaryPath, "validate", configPath)
			Expect(cmd.Run()).To(HaveOccurred())
		})

		It("reports the cycle", func() {
			cmd := exec.Command(binaryPath, "validate", configPath)
			output, _ := cmd.CombinedOutput()
			Expect(string(output)).To(ContainSubstring("dependency cycle"))
		})
	})

	Context("with a nonexistent file", func() {
		It("exits with a non-zero code", func() {
			cmd := exec.Command(binaryPath, "validate", "/tmp/does-not-exist-agentpipe.yaml")
			err := cmd.Run()
			Expect(err).To(HaveOccurred())
		})
	})

	Context("with an unreferenced agent file", func() {
		BeforeEach(func() {
			writeFile(configPath, `
name: review
trigger: manual
agents:
  - name: review-stage
    agent: missing.md
`)
		})

		It("reports the missing agent file", func() {
			cmd := exec.Command(binaryPath, "validate", configPath)
			output, _ := cmd.CombinedOutput()
			Expect(string(output)).To(ContainSubstring(`agent file "missing.md" not found`))
		})
	})
})
