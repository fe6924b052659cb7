package cmd

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func resetReadOnly(t *testing.T) {
	t.Helper()
	readOnly = false
	viper.Set("readonly", false)
	require.NoError(t, rootCmd.PersistentFlags().Set("readonly", "false"))
}

func TestReadOnlyBlocksQueueMutations(t *testing.T) {
	// Every command that writes to the queue must refuse before touching
	// config or the store.
	cases := []struct {
		name string
		args []string
	}{
		{"submit", []string{"--readonly", "submit", "--to", "owner@datasite.org", "--code", "."}},
		{"approve", []string{"--readonly", "jobs", "approve", "0f47ac10"}},
		{"reject", []string{"--readonly", "jobs", "reject", "0f47ac10", "--reason", "touches raw rows"}},
		{"cancel", []string{"--readonly", "jobs", "cancel", "0f47ac10"}},
		{"gc", []string{"--readonly", "jobs", "gc"}},
		{"serve", []string{"--readonly", "serve"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resetReadOnly(t)

			rootCmd.SetArgs(tc.args)
			rootCmd.SetContext(context.Background())

			err := rootCmd.Execute()
			rootCmd.SetArgs(nil)
			resetReadOnly(t)

			require.Error(t, err)
			require.Contains(t, err.Error(), "readonly")
		})
	}
}

func TestEnsureWritable(t *testing.T) {
	resetReadOnly(t)
	defer resetReadOnly(t)

	require.NoError(t, ensureWritable("approve a job"))

	readOnly = true
	err := ensureWritable("approve a job")
	require.Error(t, err)
	require.Contains(t, err.Error(), "refuses to approve a job")

	// The viper key alone blocks too, so CODEQ_READONLY works without the
	// flag.
	readOnly = false
	viper.Set("readonly", true)
	err = ensureWritable("delete old jobs")
	require.Error(t, err)
	require.Contains(t, err.Error(), "refuses to delete old jobs")
}
