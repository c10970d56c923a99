package sandbox

import (
	"fmt"
	"strings"
)

// probeFiles are the project markers DetectVerifyCommands understands.
var probeFiles = []string{
	"go.mod",
	"package.json",
	"pnpm-lock.yaml",
	"yarn.lock",
	"bun.lockb",
	"Cargo.toml",
	"requirements.txt",
	"pyproject.toml",
	"setup.py",
	"Gemfile",
	"Makefile",
	".eslintrc.js",
	".eslintrc.json",
	"eslint.config.js",
	"eslint.config.mjs",
}

// ProbeCommand returns a shell command that prints the name of every
// project marker present in the current directory, one per line.
func ProbeCommand() string {
	var b strings.Builder
	for i, f := range probeFiles {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "[ -e %s ] && echo %s", Quote(f), Quote(f))
	}
	b.WriteString("; true")
	return b.String()
}

// ParseProbe turns ProbeCommand output into a set of existing files.
func ParseProbe(output string) map[string]bool {
	existing := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			existing[line] = true
		}
	}
	return existing
}

// DetectVerifyCommands returns shell commands to run tests and linting based
// on which project files exist.
func DetectVerifyCommands(existingFiles map[string]bool) []string {
	var cmds []string

	switch {
	case existingFiles["go.mod"]:
		cmds = append(cmds, "go test ./... 2>&1")
	case existingFiles["package.json"] && existingFiles["pnpm-lock.yaml"]:
		cmds = append(cmds, "pnpm test 2>&1")
	case existingFiles["package.json"] && existingFiles["yarn.lock"]:
		cmds = append(cmds, "yarn test 2>&1")
	case existingFiles["package.json"] && existingFiles["bun.lockb"]:
		cmds = append(cmds, "bun test 2>&1")
	case existingFiles["package.json"]:
		cmds = append(cmds, "npm test --if-present 2>&1")
	case existingFiles["Cargo.toml"]:
		cmds = append(cmds, "cargo test 2>&1")
	case existingFiles["requirements.txt"] || existingFiles["pyproject.toml"] || existingFiles["setup.py"]:
		cmds = append(cmds, "python -m pytest 2>&1 || python -m unittest discover 2>&1")
	case existingFiles["Gemfile"]:
		cmds = append(cmds, "bundle exec rake test 2>&1")
	case existingFiles["Makefile"]:
		cmds = append(cmds, "make test 2>&1")
	}

	switch {
	case existingFiles["go.mod"]:
		cmds = append(cmds, "go vet ./... 2>&1")
	case existingFiles[".eslintrc.js"] || existingFiles[".eslintrc.json"] || existingFiles["eslint.config.js"] || existingFiles["eslint.config.mjs"]:
		cmds = append(cmds, "npx eslint . 2>&1")
	}

	return cmds
}
