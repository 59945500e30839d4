package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/volsurface/internal/aggregate"
	"github.com/dgnsrekt/volsurface/internal/bucket"
	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/extract"
	"github.com/dgnsrekt/volsurface/internal/quotes"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

func newTestPool(t *testing.T, workers int) *Pool {
	t.Helper()
	cfg := config.Default()
	ex, err := extract.New(cfg.Snapshot, cfg.Filters)
	require.NoError(t, err)
	return NewPool(ex, bucket.New(cfg.Buckets), cfg.Snapshot.PreferIVBS, workers, 0, zap.NewNop(), nil)
}

func discoverTasks(t *testing.T, dir string) []Task {
	t.Helper()
	files, _, err := quotes.Discover(dir, "30MINDATA_*.csv")
	require.NoError(t, err)
	tasks := make([]Task, len(files))
	for i, f := range files {
		tasks[i] = Task{File: f}
	}
	return tasks
}

func TestPoolSequentialMatchesParallel(t *testing.T) {
	dir := t.TempDir()
	writeRange(t, dir, tradingDays(12), 0, 12, 4)
	tasks := discoverTasks(t, dir)

	seq, err := newTestPool(t, 1).Execute(context.Background(), tasks)
	require.NoError(t, err)
	par, err := newTestPool(t, 4).Execute(context.Background(), tasks)
	require.NoError(t, err)

	assert.Equal(t, 11, seq.Success)
	assert.Equal(t, seq.Success, par.Success)
	assert.Equal(t, seq.Dates, par.Dates)

	a, err := json.Marshal(aggregate.Rows(seq.Observations, seq.Leaders))
	require.NoError(t, err)
	b, err := json.Marshal(aggregate.Rows(par.Observations, par.Leaders))
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestPoolEmptyTasks(t *testing.T) {
	res, err := newTestPool(t, 4).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Empty(t, res.Observations)
}

func TestPoolCancelled(t *testing.T) {
	dir := t.TempDir()
	writeRange(t, dir, tradingDays(3), 0, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 3} {
		_, err := newTestPool(t, workers).Execute(ctx, discoverTasks(t, dir))
		assert.ErrorIs(t, err, context.Canceled, "workers=%d", workers)
	}
}

func TestPoolDuplicateDate(t *testing.T) {
	dir := t.TempDir()
	days := tradingDays(2)
	writeRange(t, dir, days, 0, 2)

	src := filepath.Join(dir, "30MINDATA_2024-01-03.csv")
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "30MINDATA_2024-01-03_copy.csv"), data, 0600))

	_, err = newTestPool(t, 2).Execute(context.Background(), discoverTasks(t, dir))
	assert.ErrorIs(t, err, surface.ErrDuplicateKey)
}

func TestPoolCountsOutcomes(t *testing.T) {
	dir := t.TempDir()
	writeRange(t, dir, tradingDays(2), 0, 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "30MINDATA_2024-02-01.csv"),
		[]byte("date,ms_of_day,right,expiration,strike,bid,ask,mid\n2024-02-01,09:30:00,P,2024-03-01,100,1,1.1,1.05\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "30MINDATA_2024-02-02.csv"), []byte("strike\n1\n"), 0600))

	res, err := newTestPool(t, 2).Execute(context.Background(), discoverTasks(t, dir))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Empty)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "30MINDATA_2024-02-02.csv")
}
