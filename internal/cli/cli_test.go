package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/banshee-data/wormbehaviour/internal/config"
	"github.com/banshee-data/wormbehaviour/internal/fsutil"
	"github.com/banshee-data/wormbehaviour/internal/store"
	"github.com/banshee-data/wormbehaviour/internal/testutil"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{Logger: zaptest.NewLogger(t)})
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeExperiment(t *testing.T) (metadata, features string) {
	t.Helper()
	dir := t.TempDir()
	metadata = filepath.Join(dir, "metadata.csv")
	features = filepath.Join(dir, "features.csv")
	d := testutil.MustSynthetic(t, testutil.Spec{
		Control: "wild_type", Groups: []string{"fepD", "tnpA"}, PerGroup: 10,
		Features: 5, Shifted: 1, Effect: 4, Seed: 3,
	})
	require.NoError(t, d.WriteCSV(fsutil.OSFileSystem{}, metadata, features))
	return metadata, features
}

func TestStatsCommand(t *testing.T) {
	metadata, features := writeExperiment(t)
	out := t.TempDir()

	stdout, err := execute(t, "", "stats",
		"--metadata", metadata, "--features", features,
		"--key-column", testutil.KeyColumn,
		"--save-dir", out, "--test", "t-test")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Samples: 30, features: 5")
	assert.Contains(t, stdout, "Groups compared with wild_type: 2 (parametric tests)")
	assert.Contains(t, stdout, "Significant features:")
	assert.FileExists(t, filepath.Join(out, "Stats", "sigfeats.txt"))
	assert.FileExists(t, filepath.Join(out, "params.yaml"))
	assert.NoFileExists(t, filepath.Join(out, "PCA", "projected.csv"))

	dbPath := filepath.Join(out, "wormbehaviour.db")
	require.FileExists(t, dbPath)
	db, err := store.OpenDB(dbPath, nil)
	require.NoError(t, err)
	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunComplete, runs[0].Status)
	require.NoError(t, db.Close())

	latest, err := store.LatestMigrationVersion()
	require.NoError(t, err)
	stdout, err = execute(t, "", "migrate", "status", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, fmt.Sprintf("Current version: %d", latest))
	assert.Contains(t, stdout, "Dirty: false")
}

func TestCleanCommandWithoutDB(t *testing.T) {
	metadata, features := writeExperiment(t)
	out := t.TempDir()

	stdout, err := execute(t, "", "clean", "--no-db",
		"--metadata", metadata, "--features", features,
		"--key-column", testutil.KeyColumn, "--save-dir", out)
	require.NoError(t, err)
	assert.NotContains(t, stdout, "Run ")
	assert.NotContains(t, stdout, "Significant features")
	assert.FileExists(t, filepath.Join(out, "Cleaning", "features_clean.csv"))
	assert.NoFileExists(t, filepath.Join(out, "wormbehaviour.db"))
}

func TestStageCommandErrors(t *testing.T) {
	_, err := execute(t, "", "stats", "--no-db", "--alpha", "2", "--save-dir", t.TempDir())
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = execute(t, "", "stats", "--no-db")
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = execute(t, "", "run", "unexpected")
	assert.Error(t, err)
}

func TestParamsPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"control: N2\npval_threshold: 0.01\nfdr_method: fdr_by\nnan_threshold: 0.3\n"), 0o644))

	opts := &RootOptions{}
	root := newRootCommand(opts)
	require.NoError(t, root.PersistentFlags().Parse([]string{"--alpha", "0.2", "--dates", "20210401,20210402"}))
	opts.ConfigPath = path

	p, err := opts.params()
	require.NoError(t, err)
	assert.Equal(t, 0.2, p.GetPvalThreshold())
	assert.Equal(t, "N2", p.GetControl())
	assert.Equal(t, "fdr_by", string(p.GetFDRMethod()))
	assert.Equal(t, 0.3, p.GetNaNThreshold())
	assert.Equal(t, []string{"20210401", "20210402"}, p.Dates)

	opts.ConfigPath = filepath.Join(dir, "params.toml")
	_, err = opts.params()
	assert.Error(t, err)
}

func TestWindowsCommand(t *testing.T) {
	stdout, err := execute(t, "", "windows", "5", "10")
	require.NoError(t, err)
	assert.Contains(t, stdout, "290:300, 305:315, 315:325")
	assert.Contains(t, stdout, "590:600, 605:615, 615:625")
	assert.Contains(t, stdout, "330:360")

	_, err = execute(t, "", "windows", "soon")
	assert.Error(t, err)
	_, err = execute(t, "", "windows")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	stdout, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "wormbehaviour dev")
}

func TestTimeSeriesCommand(t *testing.T) {
	dir := t.TempDir()
	traces := filepath.Join(dir, "speed.csv")
	require.NoError(t, os.WriteFile(traces, []byte(`well,gene_name,timestamp,speed
w1,wt,0,1
w1,wt,1,3
w2,wt,0,2
w2,wt,1,4
w3,fepD,0,5
w3,fepD,1,6
`), 0o644))

	stdout, err := execute(t, "", "timeseries", traces,
		"--sample-col", "well", "--time-col", "timestamp", "--feature", "speed",
		"--control", "wt", "--stimuli", "1", "--save-dir", dir)
	require.NoError(t, err)
	want := filepath.Join(dir, "Plots", "timeseries", "speed.png")
	assert.Contains(t, stdout, want)
	assert.FileExists(t, want)

	_, err = execute(t, "", "timeseries", traces, "--feature", "speed")
	assert.Error(t, err)
}

func TestMigrateCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	stdout, err := execute(t, "", "migrate", "status", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Current version: 0")
	assert.Contains(t, stdout, "behind")

	stdout, err = execute(t, "", "migrate", "up", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "All migrations applied")

	stdout, err = execute(t, "n\n", "migrate", "force", "1", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Aborted")

	stdout, err = execute(t, "", "migrate", "force", "1", "--yes", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "forced to 1")

	_, err = execute(t, "", "migrate", "force", "one", "--yes", "--db", dbPath)
	assert.Error(t, err)
}

func TestServeCommand(t *testing.T) {
	_, err := execute(t, "", "serve")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmd := newRootCommand(&RootOptions{Logger: zaptest.NewLogger(t)})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--listen", "127.0.0.1:0", "--db", filepath.Join(t.TempDir(), "runs.db")})
	assert.NoError(t, cmd.ExecuteContext(ctx))
}
