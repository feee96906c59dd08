package parsers

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/healthtrack/platform/pkg/health"
)

func openZip(p string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, health.NewFileValidationError("invalid zip archive: %v", err)
	}
	return zr, nil
}

func skipMember(f *zip.File) bool {
	if f.FileInfo().IsDir() {
		return true
	}
	name := f.Name
	base := path.Base(name)
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(base, "._")
}

// appleExportMember picks the smallest export.xml candidate.
func appleExportMember(files []*zip.File) *zip.File {
	var best *zip.File
	for _, f := range files {
		if skipMember(f) || !strings.EqualFold(path.Ext(f.Name), ".xml") {
			continue
		}
		lower := strings.ToLower(f.Name)
		if path.Base(lower) != "export.xml" && !strings.Contains(lower, "apple_health_export") {
			continue
		}
		if strings.Contains(path.Base(lower), "cda") {
			continue
		}
		if best == nil || f.UncompressedSize64 < best.UncompressedSize64 {
			best = f
		}
	}
	return best
}

// dataMembers returns .json and .csv members in name order.
func dataMembers(files []*zip.File) []*zip.File {
	var out []*zip.File
	for _, f := range files {
		if skipMember(f) {
			continue
		}
		switch extOf(f.Name) {
		case "json", "csv":
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// extractMember copies one member into dir under a flattened name, so a
// crafted entry path cannot escape dir.
func extractMember(f *zip.File, dir string, seq int) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("preparing extraction dir: %w", err)
	}
	name := fmt.Sprintf("%03d_%s", seq, filepath.Base(filepath.FromSlash(f.Name)))
	target := filepath.Join(dir, name)

	src, err := f.Open()
	if err != nil {
		return "", health.NewFileValidationError("unreadable archive member %s: %v", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", health.NewFileValidationError("unreadable archive member %s: %v", f.Name, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", target, err)
	}
	return target, nil
}
