package configpaths_test

import (
	"path/filepath"
	"testing"

	"github.com/B83C/rmk/internal/configpaths"
	"github.com/stretchr/testify/assert"
)

func TestConfigCandidatePathsRoutesUserPathByExtension(t *testing.T) {
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths("/tmp/mine.yaml")
	assert.Contains(t, yamlPaths, "/tmp/mine.yaml")
	assert.NotContains(t, jsonPaths, "/tmp/mine.yaml")
	assert.NotContains(t, tomlPaths, "/tmp/mine.yaml")
}

func TestConfigCandidatePathsIncludesWorkingDirectory(t *testing.T) {
	wd, err := filepath.Abs(".")
	assert.NoError(t, err)

	jsonPaths, _, _ := configpaths.ConfigCandidatePaths("")
	assert.Contains(t, jsonPaths, filepath.Join(wd, "board.json"))
}

func TestEnsureDirCreatesParent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "board.json")
	assert.NoError(t, configpaths.EnsureDir(target))
}
