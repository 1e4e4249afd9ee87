package acceptance_test

import (
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("parallel stage execution", func() {
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
`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("runs every independent stage and reports both in declaration order", func() {
		output, err := exec.Command(binaryPath, "run", "--once", "--mock", configPath).CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		statusOut, err := exec.Command(binaryPath, "status", configPath).CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(statusOut))

		out := string(statusOut)
		lintIdx := strings.Index(out, "lint")
		securityIdx := strings.Index(out, "security")
		Expect(lintIdx).To(BeNumerically(">=", 0))
		Expect(securityIdx).To(BeNumerically(">=", 0))
		Expect(lintIdx).To(BeNumerically("<", securityIdx), "declaration order should be preserved regardless of completion order")
	})
})
