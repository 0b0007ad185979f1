package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/maplink/internal/config"
)

// loadTestConfig loads defaults from an empty directory into cfg.
func loadTestConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	c, err := config.Load()
	require.NoError(t, err)
	cfg = c
}
