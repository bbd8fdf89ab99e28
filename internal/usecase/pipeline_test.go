package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HydrophoneStreamer/internal/domain"
	"HydrophoneStreamer/internal/infrastructure/storage"
	"HydrophoneStreamer/internal/metrics"
	"HydrophoneStreamer/internal/provider"
	"HydrophoneStreamer/internal/timestamp"
)

var testNow = time.Date(2025, 5, 25, 11, 0, 0, 0, time.UTC)

// fakeProvider lists the fixed names inside the window and writes
// placeholder audio on fetch.
type fakeProvider struct {
	mu      sync.Mutex
	dir     string
	delay   time.Duration
	names   []string
	listErr error
	fetches map[string]int
	windows []domain.Window

	// ignoreWindow lists every name, like an archive whose lower date bound
	// is inclusive.
	ignoreWindow bool
}

func newFakeProvider(dir string, names ...string) *fakeProvider {
	return &fakeProvider{dir: dir, delay: time.Hour, names: names, fetches: map[string]int{}}
}

func (f *fakeProvider) Network() domain.Network     { return domain.NetworkONC }
func (f *fakeProvider) BuiltInDelay() time.Duration { return f.delay }

func (f *fakeProvider) List(_ context.Context, w domain.Window) (domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, w)
	if f.listErr != nil {
		return domain.Listing{}, f.listErr
	}

	var entries []domain.RemoteEntry
	for _, name := range f.names {
		ts, err := timestamp.Parse(name)
		if err != nil {
			return domain.Listing{}, err
		}
		if !f.ignoreWindow && !w.Contains(ts) {
			continue
		}
		entries = append(entries, domain.RemoteEntry{Name: name, URL: "https://example.test/" + name, Timestamp: ts, Size: -1})
	}
	return domain.Listing{Entries: entries, Filter: domain.Filter{"deviceCode": "ICLISTENHF1266"}}, nil
}

func (f *fakeProvider) Fetch(_ context.Context, entry domain.RemoteEntry) (string, error) {
	f.mu.Lock()
	f.fetches[entry.Name]++
	f.mu.Unlock()

	path := filepath.Join(f.dir, entry.Name)
	return path, os.WriteFile(path, []byte("audio:"+entry.Name), 0o644)
}

func (f *fakeProvider) Citation(context.Context, domain.Window) (string, error) {
	return "@misc{test, title={Test}}", nil
}

func (f *fakeProvider) fetchCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[name]
}

// orderingProvider adds a scripted data product order on top of fakeProvider.
type orderingProvider struct {
	*fakeProvider
	placed    int
	deliver   []string
	collected int
}

func (o *orderingProvider) PlaceOrder(_ context.Context, w domain.Window) (domain.PendingOrder, bool, error) {
	o.placed++
	return domain.PendingOrder{
		RequestID: 42,
		RunIDs:    []int{7},
		Filter:    domain.Filter{"deviceCode": "ICLISTENHF1266", "dataProductCode": "AD"},
		PlacedAt:  w.End,
	}, true, nil
}

func (o *orderingProvider) CollectOrder(_ context.Context, order *domain.PendingOrder) ([]string, bool, error) {
	o.collected++
	var paths []string
	for _, name := range o.deliver {
		path := filepath.Join(o.dir, name)
		if err := os.WriteFile(path, []byte("order"), 0o644); err != nil {
			return nil, false, err
		}
		paths = append(paths, path)
	}
	return paths, len(o.deliver) > 0, nil
}

// fakeNormalizer renames .mseed and .wav files to .flac unless told to fail.
type fakeNormalizer struct {
	mu   sync.Mutex
	fail map[string]bool
}

var errConvert = errors.New("convert: compressed output was not produced")

func (n *fakeNormalizer) TargetName(name string) string {
	ext := filepath.Ext(name)
	if ext == ".mseed" || ext == ".wav" {
		return strings.TrimSuffix(name, ext) + ".flac"
	}
	return name
}

func (n *fakeNormalizer) Normalize(_ context.Context, path string) (string, error) {
	n.mu.Lock()
	fail := n.fail[filepath.Base(path)]
	n.mu.Unlock()
	if fail {
		return "", errConvert
	}

	target := filepath.Join(filepath.Dir(path), n.TargetName(filepath.Base(path)))
	if target == path {
		return path, nil
	}
	if err := os.Rename(path, target); err != nil {
		return "", err
	}
	return target, nil
}

func (n *fakeNormalizer) setFail(name string, fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail == nil {
		n.fail = map[string]bool{}
	}
	n.fail[name] = fail
}

type harness struct {
	dir      string
	saveDir  *storage.SaveDir
	provider *fakeProvider
	norm     *fakeNormalizer
	clock    *clockwork.FakeClock
	pipeline *Pipeline
}

func newHarness(t *testing.T, names ...string) *harness {
	t.Helper()

	dir := t.TempDir()
	sd, err := storage.NewSaveDir(dir, 7*24*time.Hour)
	require.NoError(t, err)

	h := &harness{
		dir:      dir,
		saveDir:  sd,
		provider: newFakeProvider(dir, names...),
		norm:     &fakeNormalizer{},
		clock:    clockwork.NewFakeClockAt(testNow),
	}
	h.pipeline = h.build(h.provider)
	return h
}

func (h *harness) build(p provider.Provider) *Pipeline {
	return NewPipeline(PipelineDeps{
		Provider:   p,
		SaveDir:    h.saveDir,
		Normalizer: h.norm,
		Clock:      h.clock,
		Metrics:    metrics.New(),
	})
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

func TestCycleFetchesNewFilesAndWritesPointer(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		"ICLISTENHF1266_20250525T103000.000Z.flac",
		"ICLISTENHF1266_20250525T104000.000Z.flac",
	)

	result, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Fetched, 2)

	assert.Equal(t, "ICLISTENHF1266_20250525T104000.000Z.flac", readFile(t, filepath.Join(h.dir, storage.PointerFile)))
	assert.FileExists(t, filepath.Join(h.dir, storage.FiltersFile))
	assert.Contains(t, readFile(t, filepath.Join(h.dir, storage.CitationFile)), "@misc{test")
}

func TestCycleIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "ICLISTENHF1266_20250525T103000.000Z.flac")
	h.provider.ignoreWindow = true

	first, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Fetched, 1)

	require.NoError(t, os.Remove(filepath.Join(h.dir, storage.FiltersFile)))
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, storage.PointerFile), []byte("sentinel"), 0o644))

	second, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Fetched)
	assert.Equal(t, 1, h.provider.fetchCount("ICLISTENHF1266_20250525T103000.000Z.flac"))
	assert.NoFileExists(t, filepath.Join(h.dir, storage.FiltersFile), "nothing new must not rewrite filters")
	assert.Equal(t, "sentinel", readFile(t, filepath.Join(h.dir, storage.PointerFile)), "pointer must not be rewritten")
}

func TestCycleSkipsEntriesPresentUnderNormalizedName(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "OO-HYSB1--YDH-2025-05-25T103000.000000Z.mseed")
	h.provider.ignoreWindow = true
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "OO-HYSB1--YDH-2025-05-25T103000.000000Z.flac"), []byte("x"), 0o644))

	result, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Fetched)
	assert.Zero(t, h.provider.fetchCount("OO-HYSB1--YDH-2025-05-25T103000.000000Z.mseed"))
}

func TestCycleConvertsMiniSEED(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "OO-HYSB1--YDH-2025-05-25T103000.000000Z.mseed")

	result, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(h.dir, "OO-HYSB1--YDH-2025-05-25T103000.000000Z.flac")}, result.Fetched)
	assert.NoFileExists(t, filepath.Join(h.dir, "OO-HYSB1--YDH-2025-05-25T103000.000000Z.mseed"))
	assert.Equal(t, "OO-HYSB1--YDH-2025-05-25T103000.000000Z.flac", readFile(t, filepath.Join(h.dir, storage.PointerFile)))
}

func TestCycleConversionFailureKeepsSourceAndRetries(t *testing.T) {
	t.Parallel()

	bad := "OO-HYSB1--YDH-2025-05-25T104000.000000Z.mseed"
	good := "OO-HYSB1--YDH-2025-05-25T104500.000000Z.mseed"
	h := newHarness(t, bad, good)
	h.norm.setFail(bad, true)

	result, err := h.pipeline.RunCycle(context.Background())
	require.ErrorIs(t, err, errConvert)
	assert.Equal(t, []string{filepath.Join(h.dir, "OO-HYSB1--YDH-2025-05-25T104500.000000Z.flac")}, result.Fetched)
	assert.FileExists(t, filepath.Join(h.dir, bad))

	// The newer segment moved the window past the kept source.
	result, err = h.pipeline.RunCycle(context.Background())
	require.ErrorIs(t, err, errConvert)
	assert.Empty(t, result.Fetched)
	assert.Equal(t, time.Date(2025, 5, 25, 10, 45, 0, 0, time.UTC), h.provider.windows[1].Start)

	h.norm.setFail(bad, false)
	result, err = h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(h.dir, "OO-HYSB1--YDH-2025-05-25T104000.000000Z.flac")}, result.Fetched)
	assert.NoFileExists(t, filepath.Join(h.dir, bad))
	assert.Equal(t, 1, h.provider.fetchCount(bad), "source must not be downloaded twice")
	assert.Equal(t, "OO-HYSB1--YDH-2025-05-25T104500.000000Z.flac", readFile(t, filepath.Join(h.dir, storage.PointerFile)))
}

func TestCycleConvertsKeptSourceWhenListingFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.provider.listErr = errors.New("dial tcp: connection refused")
	kept := "ICLISTENHF1266_20250525T102000.000Z.wav"
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, kept), []byte("x"), 0o644))

	result, err := h.pipeline.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{filepath.Join(h.dir, "ICLISTENHF1266_20250525T102000.000Z.flac")}, result.Fetched)
	assert.Equal(t, "ICLISTENHF1266_20250525T102000.000Z.flac", readFile(t, filepath.Join(h.dir, storage.PointerFile)))
}

func TestCycleListErrorIsReturned(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.provider.listErr = errors.New("dial tcp: connection refused")

	_, err := h.pipeline.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCycleWindowStartsAtLatestLocal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "ICLISTENHF1266_20250525T104500.000Z.flac"), []byte("x"), 0o644))

	_, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, h.provider.windows, 1)
	assert.Equal(t, time.Date(2025, 5, 25, 10, 45, 0, 0, time.UTC), h.provider.windows[0].Start)
	assert.Equal(t, testNow, h.provider.windows[0].End)
}

func TestCycleSweepsExpiredFiles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	old := filepath.Join(h.dir, "ICLISTENHF1266_20250501T000000.000Z.flac")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	stamp := testNow.Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, stamp, stamp))

	_, err := h.pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, old)
}

func TestCyclePlacesAndCollectsOrders(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	op := &orderingProvider{fakeProvider: h.provider}
	pipeline := h.build(op)

	result, err := pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Ordered)
	assert.Empty(t, result.Fetched)
	assert.Equal(t, 1, op.placed)
	assert.FileExists(t, filepath.Join(h.dir, storage.OrdersFile))
	assert.Contains(t, readFile(t, filepath.Join(h.dir, storage.FiltersFile)), `"dataProductCode":"AD"`)

	// A pending order suppresses new orders until it is delivered.
	result, err = pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Ordered)
	assert.Equal(t, 1, op.placed)

	op.deliver = []string{"ICLISTENHF1266_20250525T102000.000Z.wav"}
	result, err = pipeline.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(h.dir, "ICLISTENHF1266_20250525T102000.000Z.flac")}, result.Fetched)
	assert.NoFileExists(t, filepath.Join(h.dir, storage.OrdersFile))
	assert.Equal(t, "ICLISTENHF1266_20250525T102000.000Z.flac", readFile(t, filepath.Join(h.dir, storage.PointerFile)))
}
