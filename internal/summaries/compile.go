// Package summaries compiles the tracker's per-plate feature summary files
// into one feature table and joins it with the experiment metadata.
package summaries

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/fsutil"
)

// DefaultPattern matches the tracker's feature summary files.
const DefaultPattern = "features_summary*.csv"

// KeySep joins the imgstore name and the well name into a row key.
const KeySep = "__"

// Columns of the compiled file table.
const (
	ColFileID   = "file_id"
	ColFilename = "filename"
	ColImgstore = "imgstore_name"
	ColWell     = "well_name"
	ColSource   = "source"
	ColIsGood   = "is_good"
)

// ErrNoSummaries is returned when no readable summary files were found.
var ErrNoSummaries = errors.New("no feature summaries found")

// Options control which summary files are compiled.
type Options struct {
	// Dates restricts discovery to these imaging-date subdirectories.
	Dates []string
	// Pattern is matched against file base names. Defaults to
	// DefaultPattern; use e.g. "features_summary*_window_0.csv" to compile
	// a single window.
	Pattern string
	Workers int
}

// Compiled is the result of Compile.
type Compiled struct {
	Features *frame.Features
	// Files holds, per row, where it came from.
	Files *frame.Metadata
	// Skipped lists summary files that could not be used.
	Skipped []string
}

// Compiler reads summary files from a FileSystem.
type Compiler struct {
	fs     fsutil.FileSystem
	logger *zap.Logger
}

// NewCompiler returns a Compiler. A nil logger discards output.
func NewCompiler(fs fsutil.FileSystem, logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{fs: fs, logger: logger}
}

// FilenamesPath returns the filenames summary that pairs with a features
// summary.
func FilenamesPath(featuresPath string) string {
	base := strings.Replace(filepath.Base(featuresPath), "features_", "filenames_", 1)
	return filepath.Join(filepath.Dir(featuresPath), base)
}

// Discover lists the feature summary files under dir.
func (c *Compiler) Discover(dir string, opts Options) ([]string, error) {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	match := func(base string) bool {
		ok, _ := path.Match(pattern, base)
		return ok
	}

	roots := []string{dir}
	if len(opts.Dates) > 0 {
		roots = roots[:0]
		for _, d := range opts.Dates {
			roots = append(roots, filepath.Join(dir, d))
		}
	}

	seen := make(map[string]bool)
	var files []string
	for _, root := range roots {
		if !c.fs.Exists(root) {
			c.logger.Warn("imaging date directory not found", zap.String("dir", root))
			continue
		}
		found, err := c.fs.FindFiles(root, match)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", root, err)
		}
		for _, f := range found {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	return files, nil
}

// pair is one features summary after joining with its filenames summary.
type pair struct {
	features *frame.Features
	rows     []int // kept rows of features
	keys     []string
	files    [][]string
}

// Compile reads every features summary under dir together with its
// filenames summary, keeps wells from files marked good and returns them as
// one table keyed by "<imgstore>__<well_name>". Files that cannot be read
// are logged and skipped.
func (c *Compiler) Compile(ctx context.Context, dir string, opts Options) (*Compiled, error) {
	paths, err := c.Discover(dir, opts)
	if err != nil {
		return nil, err
	}
	c.logger.Info("compiling feature summaries", zap.String("dir", dir), zap.Int("files", len(paths)))

	pairs := make([]*pair, len(paths))
	errs := make([]error, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pairs[i], errs[i] = c.readPair(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Compiled{}
	var used []*pair
	for i, p := range pairs {
		if errs[i] != nil {
			c.logger.Warn("skipping feature summary", zap.String("file", paths[i]), zap.Error(errs[i]))
			out.Skipped = append(out.Skipped, paths[i])
			continue
		}
		used = append(used, p)
	}
	if len(used) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoSummaries)
	}

	if out.Features, out.Files, err = c.merge(used); err != nil {
		return nil, err
	}
	c.logger.Info("compiled feature summaries",
		zap.Int("rows", out.Features.Len()),
		zap.Int("features", out.Features.Width()),
		zap.Int("skipped_files", len(out.Skipped)))
	return out, nil
}

func (c *Compiler) readPair(featPath string) (*pair, error) {
	fnPath := FilenamesPath(featPath)
	if !c.fs.Exists(fnPath) {
		return nil, fmt.Errorf("no matching filenames summary %s", fnPath)
	}

	ff, err := c.fs.Open(featPath)
	if err != nil {
		return nil, err
	}
	defer ff.Close()
	feats, info, err := frame.ReadCombinedCSV(ff, "", []string{ColFileID, ColWell})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", featPath, err)
	}
	fileIDs, err := info.Column(ColFileID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", featPath, err)
	}
	wells, err := info.Column(ColWell)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", featPath, err)
	}

	fn, err := c.fs.Open(fnPath)
	if err != nil {
		return nil, err
	}
	defer fn.Close()
	names, err := frame.ReadMetadataCSV(fn, ColFileID)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fnPath, err)
	}
	nameCol := names.ColumnIndex(ColFilename)
	if nameCol < 0 {
		nameCol = names.ColumnIndex("file_name")
	}
	if nameCol < 0 {
		return nil, fmt.Errorf("%s: no filename column: %w", fnPath, frame.ErrUnknownColumn)
	}
	goodCol := names.ColumnIndex(ColIsGood)
	byID := make(map[string]int, names.Len())
	for i, k := range names.Keys {
		byID[k] = i
	}

	p := &pair{features: feats}
	var bad, unmatched int
	for i := range fileIDs {
		r, ok := byID[fileIDs[i]]
		if !ok {
			unmatched++
			continue
		}
		row := names.Rows[r]
		if goodCol >= 0 && !isGood(row[goodCol]) {
			bad++
			continue
		}
		filename := row[nameCol]
		imgstore := filepath.Base(filepath.Dir(filename))
		p.rows = append(p.rows, i)
		p.keys = append(p.keys, imgstore+KeySep+wells[i])
		p.files = append(p.files, []string{fileIDs[i], filename, imgstore, wells[i], featPath})
	}
	if bad > 0 || unmatched > 0 {
		c.logger.Debug("dropped summary rows",
			zap.String("file", featPath), zap.Int("not_good", bad), zap.Int("unmatched", unmatched))
	}
	return p, nil
}

// isGood reads the is_good flag. Empty or unparseable values count as good.
func isGood(s string) bool {
	ok, err := strconv.ParseBool(strings.TrimSpace(s))
	return err != nil || ok
}

// merge stacks the pairs, taking the union of their feature columns. Missing
// columns are NaN. A key seen twice keeps its first row.
func (c *Compiler) merge(pairs []*pair) (*frame.Features, *frame.Metadata, error) {
	colIdx := make(map[string]int)
	var names []string
	for _, p := range pairs {
		for _, n := range p.features.Names {
			if _, ok := colIdx[n]; !ok {
				colIdx[n] = len(names)
				names = append(names, n)
			}
		}
	}

	seen := make(map[string]bool)
	var (
		keys  []string
		rows  [][]float64
		files [][]string
		dups  int
	)
	for _, p := range pairs {
		for k, i := range p.rows {
			key := p.keys[k]
			if seen[key] {
				dups++
				continue
			}
			seen[key] = true
			r := make([]float64, len(names))
			for j := range r {
				r[j] = math.NaN()
			}
			for j, n := range p.features.Names {
				r[colIdx[n]] = p.features.At(i, j)
			}
			keys = append(keys, key)
			rows = append(rows, r)
			files = append(files, p.files[k])
		}
	}
	if dups > 0 {
		c.logger.Warn("duplicate wells in feature summaries; kept first", zap.Int("duplicates", dups))
	}

	feats, err := frame.NewFeatures(keys, names, rows)
	if err != nil {
		return nil, nil, err
	}
	meta, err := frame.NewMetadata(keys, []string{ColFileID, ColFilename, ColImgstore, ColWell, ColSource}, files)
	if err != nil {
		return nil, nil, err
	}
	return feats, meta, nil
}
