package step

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
)

type pathEvaluator struct {
	logger      log.Logger
	pathChecker pathutil.PathChecker
}

// evaluate expands the patterns in paths and keeps the existing ones.
// The returned paths are relative to workspace.
func (e pathEvaluator) evaluate(workspace string, paths []string) []string {
	seen := map[string]bool{}
	var finalPaths []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			finalPaths = append(finalPaths, p)
		}
	}

	for _, path := range paths {
		clean := filepath.Clean(path)
		if !filepath.IsLocal(clean) {
			e.logger.Warnf("Path is outside of the workspace, skipping: %s", path)
			continue
		}

		if !strings.Contains(path, "*") {
			exists, err := e.pathChecker.IsPathExists(filepath.Join(workspace, clean))
			if err != nil {
				e.logger.Warnf("Failed to check path %s, error: %s", path, err)
				continue
			}
			if !exists {
				e.logger.Warnf("Path doesn't exist: %s", path)
				continue
			}
			add(clean)
			continue
		}

		matches, err := doublestar.Glob(os.DirFS(workspace), filepath.ToSlash(path))
		if err != nil {
			e.logger.Warnf("Error in path pattern '%s': %s", path, err)
			continue
		}
		if len(matches) == 0 {
			e.logger.Warnf("No match for path pattern: %s", path)
			continue
		}
		sort.Strings(matches)
		for _, match := range matches {
			add(filepath.FromSlash(match))
		}
	}

	return finalPaths
}

func absPaths(workspace string, paths []string) []string {
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		abs = append(abs, filepath.Join(workspace, p))
	}
	return abs
}
