// Package configpaths resolves where rmkctl looks for a board profile
// configuration file, the same XDG/AppData-aware layered search
// configpaths.ConfigCandidatePaths used for VIIPER, adapted to one
// "board.{json,yaml,toml}" basename instead of VIIPER's multi-command set.
package configpaths

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigDir returns the platform-specific configuration directory
// for rmkctl.
func DefaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("AppData"); appdata != "" {
			return filepath.Join(appdata, "rmk"), nil
		}
		return "", errors.New("configpaths: AppData not set")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "rmk"), nil
		}
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".config", "rmk"), nil
		}
		return "", errors.New("configpaths: HOME not set")
	}
}

// EnsureDir ensures the directory for a given file path exists.
func EnsureDir(filePath string) error {
	return os.MkdirAll(filepath.Dir(filePath), 0o755)
}

// ConfigCandidatePaths builds per-format candidate board-profile paths
// in priority order: an explicit user path first, then the working
// directory, then the config home, then (on unix) a system-wide
// location — the same layering ConfigCandidatePaths uses, narrowed to
// one basename ("board") since rmkctl has only one configuration shape.
func ConfigCandidatePaths(userPath string) (jsonPaths, yamlPaths, tomlPaths []string) {
	add := func(slice *[]string, p string) { *slice = append(*slice, p) }

	if userPath != "" {
		switch filepath.Ext(userPath) {
		case ".yaml", ".yml":
			add(&yamlPaths, userPath)
		case ".toml":
			add(&tomlPaths, userPath)
		default:
			add(&jsonPaths, userPath)
		}
	}

	if wd, err := os.Getwd(); err == nil {
		add(&jsonPaths, filepath.Join(wd, "board.json"))
		add(&yamlPaths, filepath.Join(wd, "board.yaml"))
		add(&yamlPaths, filepath.Join(wd, "board.yml"))
		add(&tomlPaths, filepath.Join(wd, "board.toml"))
	}

	if dir, err := DefaultConfigDir(); err == nil {
		add(&jsonPaths, filepath.Join(dir, "board.json"))
		add(&yamlPaths, filepath.Join(dir, "board.yaml"))
		add(&yamlPaths, filepath.Join(dir, "board.yml"))
		add(&tomlPaths, filepath.Join(dir, "board.toml"))
	}

	if runtime.GOOS != "windows" {
		add(&jsonPaths, filepath.Join("/etc/rmk", "board.json"))
		add(&yamlPaths, filepath.Join("/etc/rmk", "board.yaml"))
		add(&tomlPaths, filepath.Join("/etc/rmk", "board.toml"))
	}

	return
}
