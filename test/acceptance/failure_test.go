package acceptance_test

import (
	"os"
	"path/filepath"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// writeExitingScript writes an executable script under tmpDir/bin named
// agentName that discards stdin and exits with code.
func writeExitingScript(repoDir, tmpDir, agentName string, code int) string {
	writeAgentFile(repoDir, agentName, "Do the stage's work.")
	scriptDir := filepath.Join(tmpDir, "bin")
	writeFile(filepath.Join(scriptDir, agentName), "#!/bin/sh\ncat > /dev/null\nexit "+strconv.Itoa(code)+"\n")
	Expect(os.Chmod(filepath.Join(scriptDir, agentName), 0755)).To(Succeed())
	return scriptDir
}

var _ = Describe("stage failure handling", func() {
	var tmpDir, repoDir, configPath, scriptDir string

	BeforeEach(func() {
		repoDir, tmpDir = newTestRepo()
		configPath = filepath.Join(repoDir, "pipeline.yaml")
		scriptDir = writeExitingScript(repoDir, tmpDir, "failing", 1)
		writeAgentFile(repoDir, "safe", "Do the stage's work.")
		writeFile(filepath.Join(tmpDir, "bin", "safe"), "#!/bin/sh\ncat > /dev/null\nexit 0\n")
		Expect(os.Chmod(filepath.Join(tmpDir, "bin", "safe"), 0755)).To(Succeed())
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	Context("with onFail: stop", func() {
		BeforeEach(func() {
			writeFile(configPath, `
name: gated
trigger: manual
agents:
  - name: broken
    agent: failing
    onFail: stop
  - name: downstream
    agent: safe
    dependsOn: [broken]
`)
		})

		It("fails the run and never dispatches the downstream stage", func() {
			_, err := runWithScriptPath(scriptDir, "run", "--once", configPath)
			Expect(err).To(HaveOccurred())

			statusOut, _ := runWithScriptPath(scriptDir, "status", configPath)
			out := string(statusOut)
			Expect(out).To(ContainSubstring("failed"))
			Expect(out).NotTo(ContainSubstring("downstream"))
		})
	})

	Context("with onFail: continue", func() {
		BeforeEach(func() {
			writeFile(configPath, `
name: gated
trigger: manual
agents:
  - name: broken
    agent: failing
    onFail: continue
  - name: downstream
    agent: safe
    dependsOn: [broken]
`)
		})

		It("demotes the run to partial but still runs the downstream stage", func() {
			runWithScriptPath(scriptDir, "run", "--once", configPath)

			statusOut, _ := runWithScriptPath(scriptDir, "status", configPath)
			out := string(statusOut)
			Expect(out).To(ContainSubstring("partial"))
			Expect(out).To(ContainSubstring("downstream"))
		})
	})
})
