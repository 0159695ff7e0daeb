package results

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/wormbehaviour/internal/clean"
	"github.com/banshee-data/wormbehaviour/internal/compare"
	"github.com/banshee-data/wormbehaviour/internal/fsutil"
	"github.com/banshee-data/wormbehaviour/internal/security"
)

// Writer places output files under a save directory.
type Writer struct {
	fs  fsutil.FileSystem
	dir string
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(fs fsutil.FileSystem, dir string) *Writer {
	return &Writer{fs: fs, dir: dir}
}

// Dir returns the save directory.
func (w *Writer) Dir() string { return w.dir }

// Path joins rel onto the save directory and checks that the result stays
// inside it.
func (w *Writer) Path(rel string) (string, error) {
	p := filepath.Join(w.dir, rel)
	if err := security.ValidatePathWithinDirectory(p, w.dir); err != nil {
		return "", err
	}
	return p, nil
}

// Write renders a file with enc and stores it at rel.
func (w *Writer) Write(rel string, enc func(io.Writer) error) (string, error) {
	p, err := w.Path(rel)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := enc(&buf); err != nil {
		return "", fmt.Errorf("encode %s: %w", rel, err)
	}
	if err := w.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	if err := w.fs.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// WriteTestTable writes a single comparison table.
func (w *Writer) WriteTestTable(rel string, t *compare.TestTable) (string, error) {
	return w.Write(rel, func(out io.Writer) error { return EncodeTestTable(out, t) })
}

// ReadTestTable reads a comparison table written by WriteTestTable.
func (w *Writer) ReadTestTable(rel string) (*compare.TestTable, error) {
	p, err := w.Path(rel)
	if err != nil {
		return nil, err
	}
	f, err := w.fs.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeTestTable(f)
}

// WritePairwise writes the wide table of every group vs the control.
func (w *Writer) WritePairwise(rel string, res *compare.Result) (string, error) {
	return w.Write(rel, func(out io.Writer) error { return EncodePairwise(out, res) })
}

// WriteSigfeatsTable writes the significant-feature counts per group.
func (w *Writer) WriteSigfeatsTable(rel string, res *compare.Result, alpha float64) (string, error) {
	return w.Write(rel, func(out io.Writer) error { return EncodeSigfeats(out, res, alpha) })
}

// WriteDropped writes the features removed by cleaning.
func (w *Writer) WriteDropped(rel string, rep clean.Report) (string, error) {
	return w.Write(rel, func(out io.Writer) error { return EncodeDropped(out, rep) })
}

// WriteList writes one entry per line.
func (w *Writer) WriteList(rel string, lines []string) (string, error) {
	return w.Write(rel, func(out io.Writer) error {
		if len(lines) == 0 {
			return nil
		}
		_, err := io.WriteString(out, strings.Join(lines, "\n")+"\n")
		return err
	})
}

// ReadList reads a file written by WriteList, skipping blank lines.
func ReadList(fs fsutil.FileSystem, path string) ([]string, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range strings.Split(string(data), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}
