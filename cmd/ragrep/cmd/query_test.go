package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_DefaultQuery_NoIndexReturnsResultsOrError(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(testDir))
	defer func() { _ = os.Chdir(oldDir) }()

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	require.NoError(t, runQuery(cmd.Context(), cmd, "hello", false))
}

func TestRootCmd_DefaultQuery_AfterIndexingFindsMatch(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	indexCmd := &cobra.Command{}
	indexCmd.SetOut(new(bytes.Buffer))
	require.NoError(t, runIndex(indexCmd.Context(), indexCmd, testDir))

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(testDir))
	defer func() { _ = os.Chdir(oldDir) }()

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	require.NoError(t, runQuery(cmd.Context(), cmd, "hello", false))
}

func TestRootCmd_DefaultQuery_CompactSuppressesCode(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	indexCmd := &cobra.Command{}
	indexCmd.SetOut(new(bytes.Buffer))
	require.NoError(t, runIndex(indexCmd.Context(), indexCmd, testDir))

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(testDir))
	defer func() { _ = os.Chdir(oldDir) }()

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	require.NoError(t, runQuery(cmd.Context(), cmd, "hello", true))
	assert.NotContains(t, buf.String(), "func main")
}

func TestResolvePaths_UsesRagrepDirectory(t *testing.T) {
	root := t.TempDir()
	paths := resolvePaths(root)

	assert.Equal(t, filepath.Join(root, ".ragrep", "ragrep.db"), paths.metadataDB)
	assert.Equal(t, filepath.Join(root, ".ragrep", "ragrep.sock"), paths.socket)
	assert.Equal(t, filepath.Join(root, ".ragrep", "server.pid"), paths.pidFile)
}
