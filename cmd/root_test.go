package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"predict", "correct", "history", "rollback", "status", "serve", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "formmonkey", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestPredictCommand_Flags(t *testing.T) {
	for _, name := range []string{"file", "doc-id", "type", "fields"} {
		require.NotNil(t, predictCmd.Flags().Lookup(name), "predict command should have --%s flag", name)
	}
}

func TestCorrectCommand_Flags(t *testing.T) {
	for _, name := range []string{"field-id", "value", "reason", "actor", "file"} {
		require.NotNil(t, correctCmd.Flags().Lookup(name), "correct command should have --%s flag", name)
	}
}

func TestHistoryCommand_Flags(t *testing.T) {
	flag := historyCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "history command should have --limit flag")
	assert.Equal(t, "100", flag.DefValue)
}

func TestRollbackCommand_Flags(t *testing.T) {
	require.NotNil(t, rollbackCmd.Flags().Lookup("to-version"))
	require.NotNil(t, rollbackCmd.Flags().Lookup("actor"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
