// Package autofix turns recurring code errors into reviewed pull
// requests: it picks repeating L2 signatures, asks the model for a
// minimal patch, and applies it only after a human approves.
package autofix

import (
	"regexp"
	"strings"
)

var tracebackFileRe = regexp.MustCompile(`File "([^"]+\.py)", line \d+`)

// ExtractPaths pulls repo-relative Python files out of a traceback in
// order of appearance. Deployment prefixes are stripped, while system
// paths, vendored packages and protected files are dropped. At most max
// paths are returned.
func ExtractPaths(traceback, repoPrefix string, protected []string, max int) []string {
	protectedSet := make(map[string]struct{}, len(protected))
	for _, p := range protected {
		protectedSet[p] = struct{}{}
	}

	seen := make(map[string]struct{})
	var paths []string
	for _, match := range tracebackFileRe.FindAllStringSubmatch(traceback, -1) {
		path := strings.TrimPrefix(match[1], "/app/")
		path = strings.TrimPrefix(path, "app/")
		if repoPrefix != "" {
			path = strings.TrimPrefix(path, repoPrefix)
		}
		// Anything still absolute lives outside the repo checkout.
		if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "lib/") {
			continue
		}
		if strings.Contains(path, "site-packages") {
			continue
		}
		if _, ok := protectedSet[path]; ok {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
		if len(paths) >= max {
			break
		}
	}
	return paths
}
