package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { configDir = "config" })

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "force-pull"})

	flag := root.PersistentFlags().Lookup("config-dir")
	require.NotNil(t, flag)
	assert.Equal(t, "config", flag.DefValue)
}

func TestForcePullCmd_Args(t *testing.T) {
	_, err := run(t, "force-pull")
	assert.Error(t, err)

	_, err = run(t, "force-pull", "did:example:abc", "bafy", "extra")
	assert.Error(t, err)
}

func TestServeCmd_RejectsArgs(t *testing.T) {
	_, err := run(t, "serve", "unexpected")
	assert.Error(t, err)
}

func TestCommands_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("server: [broken"), 0644))

	for _, args := range [][]string{
		{"serve", "--config-dir", dir},
		{"migrate", "--config-dir", dir},
		{"force-pull", "--config-dir", dir, "did:example:abc"},
	} {
		_, err := run(t, args...)
		assert.ErrorContains(t, err, "config.yml", "args: %v", args)
	}
}
