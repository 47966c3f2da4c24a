package common

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Build identity, injected via ldflags at release time.
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

func GetVersion() string   { return Version }
func GetBuild() string     { return Build }
func GetGitCommit() string { return GitCommit }

// LoadVersionFromFile fills in any identity values still at their defaults
// from a `.version` file next to the binary. Lines are `key: value`; blank
// lines and `#` comments are skipped. ldflags-provided values win.
func LoadVersionFromFile() {
	exe, err := os.Executable()
	if err != nil {
		return
	}
	f, err := os.Open(filepath.Join(filepath.Dir(exe), ".version"))
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch {
		case key == "version" && Version == "dev":
			Version = val
		case key == "build" && Build == "unknown":
			Build = val
		case key == "commit" && GitCommit == "unknown":
			GitCommit = val
		}
	}
}
