package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/pkg/version"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--config-dir", t.TempDir()})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), version.AppName+" "+version.GitCommit)
}

func TestSetupLogging(t *testing.T) {
	assert.NoError(t, setupLogging("debug", "json"))
	assert.NoError(t, setupLogging("WARN", "text"))
	assert.Error(t, setupLogging("loud", "text"))
	assert.Error(t, setupLogging("info", "xml"))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OMNIDESK_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("OMNIDESK_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("OMNIDESK_TEST_DOTENV"))

	loadDotEnv(dir)
	assert.Equal(t, "from-file", os.Getenv("OMNIDESK_TEST_DOTENV"))

	// A missing file is not an error.
	loadDotEnv(filepath.Join(dir, "missing"))
}

func TestCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "version"},
		{"events", "tail"},
		{"version"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, "%v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
