package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCmd()
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestConfigGetRequiresExistingConfig(t *testing.T) {
	_, _, err := executeRoot(t, "--config", "/nonexistent/nexus.conf", "config", "get", "nexus-ebics.currency")
	require.Error(t, err)
	assert.Equal(t, exitPrereqMissing, exitCodeFor(err))
}

func TestInitiatePaymentRequiresAmountFlag(t *testing.T) {
	_, _, err := executeRoot(t, "initiate-payment", "--request-uid", "abc", "payto://iban/DE1234")
	require.Error(t, err)
}

func TestInitiatePaymentRequiresRequestUIDFlag(t *testing.T) {
	_, _, err := executeRoot(t, "initiate-payment", "--amount", "EUR:1", "payto://iban/DE1234")
	require.Error(t, err)
}

func TestInitiatePaymentRequiresExactlyOnePaytoArg(t *testing.T) {
	_, _, err := executeRoot(t, "initiate-payment", "--amount", "EUR:1", "--request-uid", "abc")
	require.Error(t, err)
}

func TestTestingFakeIncomingRequiresAmountFlag(t *testing.T) {
	_, _, err := executeRoot(t, "testing", "fake-incoming", "payto://iban/DE1234")
	require.Error(t, err)
}

func TestRootHasExpectedSubcommands(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"dbinit", "ebics-setup", "ebics-submit", "ebics-fetch", "initiate-payment", "testing", "config"} {
		assert.True(t, names[want], "expected subcommand %q to be registered", want)
	}
}

func TestExitCodeForPlainError(t *testing.T) {
	_, _, err := executeRoot(t, "config", "get")
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCodeFor(err))
}
