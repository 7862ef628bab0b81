package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldscan/analysis"
	"fieldscan/backend"
	"fieldscan/models"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR-fake")

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (m *memStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, analysis.ErrNotFound
	}
	return d, nil
}

func (m *memStore) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

// stubAnalyzer answers AnalyzeImage with result/err, optionally holding the
// call open until release is closed.
type stubAnalyzer struct {
	result  *models.AnalysisResult
	err     error
	release chan struct{}
	started chan struct{}
	images  map[string][]byte

	mu      sync.Mutex
	gotName string
	gotData []byte
	fetched []string
}

func newStub() *stubAnalyzer {
	return &stubAnalyzer{started: make(chan struct{}, 1), images: map[string][]byte{}}
}

func (s *stubAnalyzer) AnalyzeImage(ctx context.Context, name string, r io.Reader) (*models.AnalysisResult, error) {
	data, _ := io.ReadAll(r)
	s.mu.Lock()
	s.gotName, s.gotData = name, data
	s.mu.Unlock()
	select {
	case s.started <- struct{}{}:
	default:
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	r2 := s.result.Clone()
	return &r2, nil
}

func (s *stubAnalyzer) FetchImage(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, ref)
	if d, ok := s.images[ref]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: 404", backend.ErrFetchFailed)
}

func (s *stubAnalyzer) ResolveURL(ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	return "http://backend.test" + ref
}

// recorder collects every snapshot the workflow publishes.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newTestWorkflow(t *testing.T, an Analyzer, opts Options) (*Orchestrator, *analysis.Context, *memStore) {
	t.Helper()
	store := &memStore{data: map[string][]byte{}}
	results, err := analysis.Load(context.Background(), store, analysis.DefaultKey, nil)
	require.NoError(t, err)
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Millisecond
	}
	if opts.RedirectDelay == 0 {
		opts.RedirectDelay = time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	o := New(results, an, opts)
	t.Cleanup(o.Close)
	return o, results, store
}

func TestSelect_KeepsNameAndBuildsPreview(t *testing.T) {
	o, _, _ := newTestWorkflow(t, newStub(), Options{})

	require.NoError(t, o.Select("field1.png", "", pngBytes))

	s := o.Snapshot()
	assert.Equal(t, ImageSelected, s.State)
	assert.True(t, s.HasImage)
	assert.Equal(t, "field1.png", s.ImageName)
	assert.True(t, strings.HasPrefix(s.Preview, "data:image/png;base64,"))
	assert.Greater(t, len(s.Preview), len("data:image/png;base64,"))
}

func TestSelect_RejectsNonImages(t *testing.T) {
	o, _, _ := newTestWorkflow(t, newStub(), Options{})

	err := o.Select("notes.txt", "text/plain", []byte("hello"))
	require.ErrorIs(t, err, ErrNotImage)
	err = o.Select("empty.png", "image/png", nil)
	require.ErrorIs(t, err, ErrNotImage)
	assert.Equal(t, Idle, o.Snapshot().State)
}

func TestRun_WithoutImage(t *testing.T) {
	o, _, _ := newTestWorkflow(t, newStub(), Options{})
	require.ErrorIs(t, o.Run(context.Background()), ErrNoImage)
}

func TestRun_CommitsMergedResult(t *testing.T) {
	an := newStub()
	an.result = &models.AnalysisResult{NDVI: 0.71, AffectedArea: 12.0, Severity: models.SeverityLow, Confidence: 98.2}
	o, results, store := newTestWorkflow(t, an, Options{})

	require.NoError(t, o.SetLocation(models.Coordinates{Lat: 40.0, Lon: -75.0}))
	require.NoError(t, o.Select("field1.jpg", "image/jpeg", []byte("\xff\xd8\xff\xe0jpeg")))
	require.NoError(t, o.Run(context.Background()))

	want := models.AnalysisResult{
		NDVI:         0.71,
		AffectedArea: 12.0,
		Severity:     models.SeverityLow,
		Confidence:   98.2,
		Lat:          models.Float(40.0),
		Lon:          models.Float(-75.0),
		ImageName:    "field1.jpg",
		Timestamp:    "2026-10-16T12:00:00.000Z",
	}
	assert.Equal(t, want, results.Result())
	assert.Contains(t, string(store.data[analysis.DefaultKey]), `"imageName":"field1.jpg"`)
	assert.False(t, results.IsAnalyzing())

	s := o.Snapshot()
	assert.Equal(t, Complete, s.State)
	assert.InDelta(t, 100, s.Progress, 1e-9)
	assert.Equal(t, StageComplete, s.Stage)
	assert.Empty(t, s.Status)

	an.mu.Lock()
	assert.Equal(t, "field1.jpg", an.gotName)
	an.mu.Unlock()
}

func TestRun_KeepsBackendImageNameAndTimestamp(t *testing.T) {
	an := newStub()
	an.result = &models.AnalysisResult{NDVI: 0.5, Severity: models.SeverityMedium, ImageName: "server.jpg", Timestamp: "2026-01-01T00:00:00Z"}
	o, results, _ := newTestWorkflow(t, an, Options{})

	require.NoError(t, o.Select("local.jpg", "image/jpeg", []byte("\xff\xd8\xff\xe0jpeg")))
	require.NoError(t, o.Run(context.Background()))

	r := results.Result()
	assert.Equal(t, "server.jpg", r.ImageName)
	assert.Equal(t, "2026-01-01T00:00:00Z", r.Timestamp)
}

func TestRun_UsesLocationHeldAtCommit(t *testing.T) {
	an := newStub()
	an.result = &models.AnalysisResult{NDVI: 0.6, Severity: models.SeverityLow}
	an.release = make(chan struct{})
	o, results, _ := newTestWorkflow(t, an, Options{})

	require.NoError(t, o.SetLocation(models.Coordinates{Lat: 1, Lon: 2}))
	require.NoError(t, o.Select("a.png", "", pngBytes))

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	<-an.started

	require.NoError(t, o.SetLocation(models.Coordinates{Lat: 38.2975, Lon: -122.2869}))
	close(an.release)
	require.NoError(t, <-done)

	r := results.Result()
	require.True(t, r.HasLocation())
	assert.InDelta(t, 38.2975, *r.Lat, 1e-9)
	assert.InDelta(t, -122.2869, *r.Lon, 1e-9)
}

func TestRun_FailureLeavesResultUntouched(t *testing.T) {
	an := newStub()
	an.err = fmt.Errorf("%w: backend non-2xx: 500 Internal Server Error", backend.ErrAnalysisFailed)
	o, results, _ := newTestWorkflow(t, an, Options{})
	before := results.Result()

	require.NoError(t, o.Select("a.png", "", pngBytes))
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, before, results.Result())
	assert.False(t, results.IsAnalyzing())
	s := o.Snapshot()
	assert.Equal(t, Idle, s.State)
	assert.Equal(t, FailureMessage, s.Status)
	assert.True(t, s.HasImage, "selection is kept for a retry")

	// A retry from the failed state is allowed.
	an.err = nil
	an.result = &models.AnalysisResult{NDVI: 0.8, Severity: models.SeverityLow}
	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, Complete, o.Snapshot().State)
}

func TestRun_StoreFailureIsAFailedRun(t *testing.T) {
	an := newStub()
	an.result = &models.AnalysisResult{NDVI: 0.8, Severity: models.SeverityLow}
	o, results, store := newTestWorkflow(t, an, Options{})
	before := results.Result()
	store.err = errors.New("disk full")

	require.NoError(t, o.Select("a.png", "", pngBytes))
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, before, results.Result())
	assert.Equal(t, FailureMessage, o.Snapshot().Status)
}

// The backend rejecting with HTTP 500 ends in the fixed failure status.
func TestRun_BackendHTTP500(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, "http://backend.test/analyze",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"detail":"cv2 error"}`))
	client := backend.New("http://backend.test", backend.WithHTTPClient(&http.Client{Transport: mt}))

	o, results, store := newTestWorkflow(t, client, Options{})
	before := results.Result()
	persistedBefore := append([]byte(nil), store.data[analysis.DefaultKey]...)

	require.NoError(t, o.Select("field1.jpg", "image/jpeg", []byte("\xff\xd8\xff\xe0jpeg")))
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, FailureMessage, o.Snapshot().Status)
	assert.False(t, results.IsAnalyzing())
	assert.Equal(t, before, results.Result())
	assert.Equal(t, persistedBefore, store.data[analysis.DefaultKey])
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestRun_TickerStopsAtResolution(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"failure", backend.ErrAnalysisFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			an := newStub()
			an.result = &models.AnalysisResult{NDVI: 0.7, Severity: models.SeverityLow}
			an.err = tc.err
			an.release = make(chan struct{})
			rec := &recorder{}
			o, _, _ := newTestWorkflow(t, an, Options{TickInterval: 2 * time.Millisecond, OnChange: rec.record})

			require.NoError(t, o.Select("a.png", "", pngBytes))
			done := make(chan error, 1)
			go func() { done <- o.Run(context.Background()) }()
			<-an.started

			require.Eventually(t, func() bool { return o.Snapshot().Progress >= 2.0/6.0*100 },
				time.Second, time.Millisecond)
			close(an.release)
			require.NoError(t, <-done)

			settled := len(rec.all())
			final := o.Snapshot()
			time.Sleep(20 * time.Millisecond)

			assert.Len(t, rec.all(), settled, "no stage change after resolution")
			assert.Equal(t, final.Stage, o.Snapshot().Stage)
			assert.NotEqual(t, Analyzing, final.State)
		})
	}
}

func TestRun_TickerWalksStagesButNeverTheLast(t *testing.T) {
	an := newStub()
	an.result = &models.AnalysisResult{NDVI: 0.7, Severity: models.SeverityLow}
	an.release = make(chan struct{})
	rec := &recorder{}
	o, _, _ := newTestWorkflow(t, an, Options{TickInterval: time.Millisecond, OnChange: rec.record})

	require.NoError(t, o.Select("a.png", "", pngBytes))
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	last := Stages[len(Stages)-2]
	require.Eventually(t, func() bool { return o.Snapshot().Stage == last }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	s := o.Snapshot()
	assert.Equal(t, last, s.Stage)
	assert.InDelta(t, 5.0/6.0*100, s.Progress, 1e-9)

	close(an.release)
	require.NoError(t, <-done)

	var seen []string
	for _, snap := range rec.all() {
		if snap.State == Analyzing && snap.Stage != "" && (len(seen) == 0 || seen[len(seen)-1] != snap.Stage) {
			seen = append(seen, snap.Stage)
		}
	}
	assert.Equal(t, Stages[:len(Stages)-1], seen)
}

func TestRun_RejectsReentry(t *testing.T) {
	an := newStub()
	an.result = &models.AnalysisResult{NDVI: 0.7, Severity: models.SeverityLow}
	an.release = make(chan struct{})
	o, results, _ := newTestWorkflow(t, an, Options{})

	require.NoError(t, o.Select("a.png", "", pngBytes))
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	<-an.started

	assert.True(t, results.IsAnalyzing())
	assert.ErrorIs(t, o.Run(context.Background()), ErrBusy)
	assert.ErrorIs(t, o.Clear(), ErrBusy)
	assert.ErrorIs(t, o.Select("b.png", "", pngBytes), ErrBusy)
	_, err := o.Capture(context.Background(), models.Coordinates{Lat: 1, Lon: 1})
	assert.ErrorIs(t, err, ErrBusy)

	close(an.release)
	require.NoError(t, <-done)
	assert.Equal(t, Complete, o.Snapshot().State)
}

func TestRun_ContextCancelledIsAFailure(t *testing.T) {
	an := newStub()
	an.release = make(chan struct{})
	o, results, _ := newTestWorkflow(t, an, Options{})
	before := results.Result()

	require.NoError(t, o.Select("a.png", "", pngBytes))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	<-an.started
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, FailureMessage, o.Snapshot().Status)
	assert.Equal(t, before, results.Result())
}

func TestClear_ResetsWithoutTouchingResult(t *testing.T) {
	o, results, _ := newTestWorkflow(t, newStub(), Options{})
	before := results.Result()

	require.NoError(t, o.Select("a.png", "", pngBytes))
	require.NoError(t, o.Clear())

	s := o.Snapshot()
	assert.Equal(t, Idle, s.State)
	assert.False(t, s.HasImage)
	assert.Empty(t, s.Preview)
	assert.Zero(t, s.Progress)
	assert.Empty(t, s.Stage)
	assert.Equal(t, before, results.Result())
}

func TestRun_RedirectsAfterDelay(t *testing.T) {
	an := newStub()
	an.result = &models.AnalysisResult{NDVI: 0.7, Severity: models.SeverityLow}
	navigated := make(chan models.AnalysisResult, 1)
	o, _, _ := newTestWorkflow(t, an, Options{
		RedirectDelay: 5 * time.Millisecond,
		OnComplete:    func(r models.AnalysisResult) { navigated <- r },
	})

	require.NoError(t, o.Select("a.png", "", pngBytes))
	require.NoError(t, o.Run(context.Background()))
	assert.Empty(t, o.Snapshot().Redirect)

	select {
	case r := <-navigated:
		assert.Equal(t, "a.png", r.ImageName)
	case <-time.After(time.Second):
		t.Fatal("no redirect")
	}
	assert.Equal(t, ResultsPath, o.Snapshot().Redirect)
}

func TestClear_CancelsPendingRedirect(t *testing.T) {
	an := newStub()
	an.result = &models.AnalysisResult{NDVI: 0.7, Severity: models.SeverityLow}
	navigated := make(chan struct{}, 1)
	o, _, _ := newTestWorkflow(t, an, Options{
		RedirectDelay: 20 * time.Millisecond,
		OnComplete:    func(models.AnalysisResult) { navigated <- struct{}{} },
	})

	require.NoError(t, o.Select("a.png", "", pngBytes))
	require.NoError(t, o.Run(context.Background()))
	require.NoError(t, o.Clear())

	select {
	case <-navigated:
		t.Fatal("redirect fired after Clear")
	case <-time.After(50 * time.Millisecond):
	}
}
