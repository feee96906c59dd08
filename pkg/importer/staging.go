package importer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/healthtrack/platform/pkg/health"
)

// Staging owns the on-disk area uploads are written to while they are
// parsed. Every job gets a private directory under <root>/<user>/<job>.
type Staging struct {
	root  string
	mkdir func(path string, perm os.FileMode) error
}

func NewStaging(root string) *Staging {
	return &Staging{root: root, mkdir: os.MkdirAll}
}

// mkdirAttempts bounds retries when a concurrent Cleanup of the same user
// removes the shared user directory while the job directory is created.
const mkdirAttempts = 3

type StagedFile struct {
	Dir  string
	Path string
}

// WorkDir is where parsers extract archive members.
func (f *StagedFile) WorkDir() string {
	return filepath.Join(f.Dir, "work")
}

func (s *Staging) Save(owner health.Owner, fileName string, body io.Reader) (*StagedFile, error) {
	if owner.ImportJobID == "" {
		return nil, fmt.Errorf("staging requires an import job id")
	}
	dir := filepath.Join(s.root, strconv.FormatInt(owner.UserID, 10), owner.ImportJobID)
	var err error
	for attempt := 0; attempt < mkdirAttempts; attempt++ {
		if err = s.mkdir(filepath.Join(dir, "work"), 0o750); !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	staged := &StagedFile{Dir: dir, Path: filepath.Join(dir, SanitizeFileName(fileName))}
	out, err := os.OpenFile(staged.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return staged, fmt.Errorf("creating staged file: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return staged, fmt.Errorf("writing staged file: %w", err)
	}
	if err := out.Close(); err != nil {
		return staged, fmt.Errorf("closing staged file: %w", err)
	}
	return staged, nil
}

// Cleanup removes the job directory and the user directory once empty.
func (s *Staging) Cleanup(f *StagedFile) error {
	if f == nil || f.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(f.Dir); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}
	_ = os.Remove(filepath.Dir(f.Dir))
	return nil
}

// SanitizeFileName keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with an underscore.
func SanitizeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	cleaned = strings.TrimLeft(cleaned, "._")
	if cleaned == "" {
		return "upload"
	}
	return cleaned
}
