package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/healthtrack/platform/pkg/health"
	"github.com/stretchr/testify/require"
)

func TestImportDryRunPrintsJob(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("UPLOAD_FOLDER", filepath.Join(dir, "uploads"))
	t.Setenv("LOG_LEVEL", "error")

	path := filepath.Join(dir, "scale.csv")
	body := "type,value,timestamp\nweight,70.5,2023-05-01T08:00:00Z\nsteps,1200,2023-05-01T09:00:00Z\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"import", path, "--dry-run", "--source", "custom", "--user", "7"})
	require.NoError(t, root.Execute())

	var got struct {
		Import  health.ImportJob `json:"import"`
		Records map[string]int64 `json:"records"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, health.StatusSuccess, got.Import.Status)
	require.Equal(t, int64(7), got.Import.UserID)
	require.Equal(t, int64(2), got.Import.RecordsProcessed)
	require.Equal(t, int64(1), got.Records["weight"])
	require.Equal(t, int64(1), got.Records["activity"])
}

func TestImportRequiresSourceAndUser(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"import", "x.csv", "--dry-run"})
	require.Error(t, root.Execute())
}

func TestImportRejectsBadMapping(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("UPLOAD_FOLDER", dir)
	path := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(path, []byte("a\n1\n"), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"import", path, "--dry-run", "--source", "custom", "--user", "1", "--mapping", "{bad"})
	require.ErrorContains(t, root.Execute(), "parse --mapping")
}
