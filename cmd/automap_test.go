package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutomap_UnknownKindRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.csv")
	require.NoError(t, os.WriteFile(path, []byte("Name,Email\nJane Doe,jane@example.com\n"), 0o644))

	prev := automapKind
	automapKind = "lead"
	t.Cleanup(func() { automapKind = prev })

	err := automapCmd.RunE(automapCmd, []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown entity kind "lead"`)
}
