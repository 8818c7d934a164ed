// Package bundle decodes and validates the store bundle uploaded by
// analysis clients: a ZIP archive with a reports/ tree of normalized
// findings, an optional root/ source snapshot, an optional metadata.json
// and an optional statistics/ tree.
package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/triage-io/triage/internal/apperr"
	"github.com/triage-io/triage/internal/report"
)

// Sentinel errors for bundle decoding.
var (
	// ErrBundleTooLarge is returned when the archive exceeds the configured limit.
	ErrBundleTooLarge = errors.New("store bundle exceeds size limit")

	// ErrBundleEmpty is returned for an archive without entries.
	ErrBundleEmpty = errors.New("store bundle is empty")

	// ErrBundleLayout is returned when the archive does not have exactly one
	// top-level directory.
	ErrBundleLayout = errors.New("store bundle must contain exactly one top-level directory")

	// ErrNoReports is returned when the archive has no reports/ tree.
	ErrNoReports = errors.New("store bundle has no reports directory")

	// ErrUnsafePath is returned for entries escaping the archive root.
	ErrUnsafePath = errors.New("store bundle entry has an unsafe path")
)

type (
	// Metadata mirrors the optional metadata.json of a bundle.
	Metadata struct {
		ClientVersion string `json:"client_version"`
		// CheckerConfig maps analyzer name to checker name to enabled flag.
		// It drives the OFF / UNAVAILABLE detection-status transitions.
		CheckerConfig map[string]map[string]bool `json:"checker_config"`
	}

	// AnalyzerStatistics carries per-analyzer counters from the statistics/ tree.
	AnalyzerStatistics struct {
		AnalyzerName    string   `json:"analyzer_name"`
		Version         string   `json:"version"`
		Successful      int      `json:"successful"`
		Failed          int      `json:"failed"`
		FailedFilePaths []string `json:"failed_file_paths,omitempty"`
	}

	// Bundle is a fully decoded store bundle.
	Bundle struct {
		// Findings are all report records, in archive order.
		Findings []report.Finding
		// Sources maps logical file paths ("/foo/bar.c") to shipped content.
		Sources map[string][]byte
		// Metadata is zero-valued when metadata.json is absent.
		Metadata Metadata
		// Statistics is empty when the statistics/ tree is absent.
		Statistics []AnalyzerStatistics
	}
)

// deflateReader swaps the stdlib flate for the faster klauspost implementation.
func deflateReader(r io.Reader) io.ReadCloser {
	return flate.NewReader(r)
}

// Open decodes a ZIP bundle, enforcing the size limit and the layout rules.
//
// Layout: exactly one top-level directory of arbitrary name, holding a
// reports/ tree (required), and optionally root/, metadata.json and
// statistics/. Oversize and unreadable archives are IOERROR; malformed
// report records are REPORT_FORMAT.
func Open(data []byte, maxSize int64) (*Bundle, error) {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, apperr.Wrap(apperr.KindIO, ErrBundleTooLarge,
			"%d bytes, limit %d", len(data), maxSize)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, err, "opening store bundle")
	}

	zr.RegisterDecompressor(zip.Deflate, deflateReader)

	top, err := topLevelDir(zr)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Sources: make(map[string][]byte)}

	sawReports := false

	// Deterministic processing order regardless of archive layout.
	files := make([]*zip.File, len(zr.File))
	copy(files, zr.File)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}

		rel := strings.TrimPrefix(path.Clean(f.Name), top+"/")

		switch {
		case rel == "metadata.json":
			if err := readJSONEntry(f, &b.Metadata); err != nil {
				return nil, err
			}
		case strings.HasPrefix(rel, "reports/"):
			sawReports = true

			if err := b.readReportEntry(f, rel); err != nil {
				return nil, err
			}
		case strings.HasPrefix(rel, "root/"):
			content, err := readEntry(f)
			if err != nil {
				return nil, err
			}

			b.Sources["/"+strings.TrimPrefix(rel, "root/")] = content
		case strings.HasPrefix(rel, "statistics/"):
			var stats AnalyzerStatistics
			if err := readJSONEntry(f, &stats); err != nil {
				return nil, err
			}

			if stats.AnalyzerName == "" {
				stats.AnalyzerName = strings.TrimSuffix(path.Base(rel), path.Ext(rel))
			}

			b.Statistics = append(b.Statistics, stats)
		}
	}

	if !sawReports {
		return nil, apperr.Wrap(apperr.KindIO, ErrNoReports, "top directory %q", top)
	}

	return b, nil
}

// topLevelDir verifies the single-root layout and returns the root name.
func topLevelDir(zr *zip.Reader) (string, error) {
	if len(zr.File) == 0 {
		return "", apperr.Wrap(apperr.KindIO, ErrBundleEmpty, "no entries")
	}

	top := ""

	for _, f := range zr.File {
		clean := path.Clean(f.Name)
		if strings.HasPrefix(clean, "..") || path.IsAbs(clean) {
			return "", apperr.Wrap(apperr.KindIO, ErrUnsafePath, "%q", f.Name)
		}

		first, _, _ := strings.Cut(clean, "/")
		if first == "." || first == "" {
			continue
		}

		if top == "" {
			top = first

			continue
		}

		if first != top {
			return "", apperr.Wrap(apperr.KindIO, ErrBundleLayout, "%q and %q", top, first)
		}
	}

	if top == "" {
		return "", apperr.Wrap(apperr.KindIO, ErrBundleLayout, "no directory entries")
	}

	return top, nil
}

// readReportEntry parses one reports/ file: a JSON array of finding records.
func (b *Bundle) readReportEntry(f *zip.File, rel string) error {
	var findings []report.Finding

	content, err := readEntry(f)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(content, &findings); err != nil {
		return apperr.Wrap(apperr.KindReportFormat, err, "parsing %q", rel)
	}

	for i := range findings {
		if err := report.Validate(&findings[i]); err != nil {
			return apperr.Wrap(apperr.KindReportFormat, err, "record %d of %q", i, rel)
		}
	}

	b.Findings = append(b.Findings, findings...)

	return nil
}

// readEntry reads one archive entry fully.
func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, err, "opening bundle entry %q", f.Name)
	}

	defer func() {
		_ = rc.Close()
	}()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, err, "reading bundle entry %q", f.Name)
	}

	return content, nil
}

// readJSONEntry reads and unmarshals one archive entry.
func readJSONEntry(f *zip.File, v any) error {
	content, err := readEntry(f)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(content, v); err != nil {
		return apperr.Wrap(apperr.KindIO, err, "parsing bundle entry %q", f.Name)
	}

	return nil
}
