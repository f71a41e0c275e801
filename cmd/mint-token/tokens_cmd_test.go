package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccessCmdRejectsBadUser(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"access", "--user", "not-a-uuid"})
	require.ErrorContains(t, cmd.Execute(), "invalid --user")
}

func TestConfirmCmdRequiresEmail(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"confirm"})
	require.Error(t, cmd.Execute())
}

func TestMintCommandsSucceed(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"access", "--user", "4f0e8a84-7c6b-4e86-9a36-2a64b1f0c002", "--ttl", "1m"})
	require.NoError(t, cmd.Execute())

	cmd = newRootCmd()
	cmd.SetArgs([]string{"confirm", "--email", "alice@kings.cam.ac.uk"})
	require.NoError(t, cmd.Execute())
}
