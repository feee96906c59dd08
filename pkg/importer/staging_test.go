package importer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/healthtrack/platform/pkg/health"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"export.zip":             "export.zip",
		"../../etc/passwd":       "passwd",
		`C:\Users\me\export.xml`: "export.xml",
		"my export (1).zip":      "my_export__1_.zip",
		".hidden.csv":            "hidden.csv",
		"":                       "upload",
		"...":                    "upload",
		"données.csv":            "donn_es.csv",
	}
	for in, want := range cases {
		require.Equal(t, want, SanitizeFileName(in), in)
	}
}

func TestStagingIsPrivatePerJobAndCleanedUp(t *testing.T) {
	root := t.TempDir()
	s := NewStaging(root)

	a, err := s.Save(health.Owner{UserID: 7, ImportJobID: "job-a"}, "export.zip", strings.NewReader("first"))
	require.NoError(t, err)
	b, err := s.Save(health.Owner{UserID: 7, ImportJobID: "job-b"}, "export.zip", strings.NewReader("second"))
	require.NoError(t, err)
	require.NotEqual(t, a.Path, b.Path)
	require.Equal(t, filepath.Join(root, "7", "job-a", "export.zip"), a.Path)

	content, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	require.Equal(t, "first", string(content))
	require.DirExists(t, a.WorkDir())

	require.NoError(t, s.Cleanup(a))
	require.NoDirExists(t, a.Dir)
	require.DirExists(t, b.Dir)

	require.NoError(t, s.Cleanup(b))
	require.NoDirExists(t, filepath.Join(root, "7"))
	require.NoError(t, s.Cleanup(nil))
}

func TestStagingRequiresJobID(t *testing.T) {
	_, err := NewStaging(t.TempDir()).Save(health.Owner{UserID: 1}, "a.csv", strings.NewReader(""))
	require.Error(t, err)
}

func TestStagingRetriesWhenUserDirVanishes(t *testing.T) {
	root := t.TempDir()
	st := NewStaging(root)
	calls := 0
	st.mkdir = func(path string, perm os.FileMode) error {
		calls++
		if calls == 1 {
			return &os.PathError{Op: "mkdir", Path: path, Err: os.ErrNotExist}
		}
		return os.MkdirAll(path, perm)
	}

	f, err := st.Save(health.Owner{UserID: 3, ImportJobID: "job-r"}, "a.csv", strings.NewReader("x"))
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.FileExists(t, f.Path)
	require.NoError(t, st.Cleanup(f))
}

func TestStagingGivesUpOnPersistentMkdirFailure(t *testing.T) {
	st := NewStaging(t.TempDir())
	st.mkdir = func(path string, _ os.FileMode) error {
		return &os.PathError{Op: "mkdir", Path: path, Err: os.ErrNotExist}
	}
	_, err := st.Save(health.Owner{UserID: 3, ImportJobID: "job-r"}, "a.csv", strings.NewReader("x"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
