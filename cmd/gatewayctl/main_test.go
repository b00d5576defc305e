package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCtl(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	code := execute(context.Background(), root, args)
	return code, stdout.String(), stderr.String()
}

func TestRoutesValidateExitCodes(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("routes:\n  - service: auth\n    type: public\n    upstream: http://auth.internal\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("routes:\n  - service: crm\n    type: protected\n    security_group: ghost\n    upstream: http://crm.internal\n"), 0o600))

	code, out, _ := runCtl(t, "routes", "validate", "--file", good, "--json")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, `"ok":true`)

	code, _, _ = runCtl(t, "routes", "validate", "--file", bad, "--groups", "tenant-manager,viewer")
	assert.Equal(t, 10, code)

	code, _, stderr := runCtl(t, "routes", "validate", "--file", filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "routes validate")
}

func TestJobsTriggerRequiresTaskName(t *testing.T) {
	code, _, stderr := runCtl(t, "jobs", "trigger")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}
