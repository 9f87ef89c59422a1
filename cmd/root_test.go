package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"fetch", "analyze", "run", "status", "regions", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "gridclimate", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestFetchCommand_Flags(t *testing.T) {
	for _, name := range []string{"month", "start", "end", "all", "start-year", "incremental", "regions", "sources"} {
		require.NotNil(t, fetchCmd.Flags().Lookup(name), "fetch should have --%s", name)
		require.NotNil(t, runCmd.Flags().Lookup(name), "run should have --%s", name)
	}
}

func TestAnalyzeCommand_Flags(t *testing.T) {
	flag := analyzeCmd.Flags().Lookup("period")
	require.NotNil(t, flag)
	assert.Equal(t, "all", flag.DefValue)
	require.NotNil(t, analyzeCmd.Flags().Lookup("regions"))
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestRegionsCommand_Flags(t *testing.T) {
	require.NotNil(t, regionsCmd.Flags().Lookup("geojson"))
	require.NotNil(t, regionsCmd.Flags().Lookup("interconnection"))
}
