package step

import (
	"os"

	"github.com/bitrise-io/go-utils/v2/env"
)

var (
	workspaceEnvKeys = []string{"GITHUB_WORKSPACE", "BITRISE_SOURCE_DIR"}
	runIDEnvKeys     = []string{"GITHUB_RUN_ID", "BITRISE_BUILD_SLUG"}
)

const localRunID = "local"

// Environment holds the ambient values of the CI run.
type Environment struct {
	Workspace string
	RunID     string
}

// ResolveEnvironment reads the workspace and run id from envRepo, falling back to
// the working directory and "local".
func ResolveEnvironment(envRepo env.Repository) (Environment, error) {
	workspace := firstSet(envRepo, workspaceEnvKeys)
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Environment{}, err
		}
		workspace = wd
	}

	runID := firstSet(envRepo, runIDEnvKeys)
	if runID == "" {
		runID = localRunID
	}

	return Environment{Workspace: workspace, RunID: runID}, nil
}

func firstSet(envRepo env.Repository, keys []string) string {
	for _, key := range keys {
		if value := envRepo.Get(key); value != "" {
			return value
		}
	}
	return ""
}
