// Package workflow drives one session's analysis: select an image, show
// cosmetic progress while the backend analyses it, merge the held location
// and commit the result to the session's analysis context.
package workflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"fieldscan/analysis"
	"fieldscan/metrics"
	"fieldscan/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrBusy            = errors.New("workflow: analysis in progress")
	ErrNoImage         = errors.New("workflow: no image selected")
	ErrNotImage        = errors.New("workflow: file is not an image")
	ErrInvalidLocation = errors.New("workflow: coordinates out of range")
)

// Stages are the cosmetic progress labels. They do not reflect real backend
// progress; the ticker never shows the last one on its own.
var Stages = []string{
	"Preprocessing satellite image...",
	"Extracting spectral bands...",
	"Computing NDVI values...",
	"Running CNN classification...",
	"Generating crop health map...",
	"Compiling insights...",
}

const (
	StageComplete  = "Analysis complete!"
	FailureMessage = "Analysis failed. Please check backend connection."

	// ResultsPath is where a finished analysis sends the user.
	ResultsPath = "/dashboard"

	fallbackImageName = "satellite_capture.jpg"
)

// Analyzer is the part of the backend client the workflow needs.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, name string, r io.Reader) (*models.AnalysisResult, error)
	FetchImage(ctx context.Context, ref string) ([]byte, error)
	ResolveURL(ref string) string
}

// Locator is a best-effort platform location lookup.
type Locator interface {
	Locate(ctx context.Context) (models.Coordinates, error)
}

type Options struct {
	TickInterval  time.Duration // cosmetic ticker cadence, default 500ms
	RedirectDelay time.Duration // pause between Complete and redirect, default 1500ms
	CaptureDelay  time.Duration // simulated capture latency, default 0

	// OnComplete runs once the redirect delay after a successful run has passed.
	OnComplete func(models.AnalysisResult)
	// OnChange runs with every new snapshot while the workflow lock is held;
	// it must not call back into the Orchestrator.
	OnChange func(Snapshot)

	CaptureImagery []string
	Rand           func(n int) int
	Now            func() time.Time
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

func (o *Options) defaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = 500 * time.Millisecond
	}
	if o.RedirectDelay <= 0 {
		o.RedirectDelay = 1500 * time.Millisecond
	}
	if len(o.CaptureImagery) == 0 {
		o.CaptureImagery = DefaultCaptureImagery
	}
	if o.Rand == nil {
		o.Rand = randIntn
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop()
	}
}

type selection struct {
	name    string
	preview string // data URL for uploads, absolute URL for captures
	data    []byte // nil for captures; fetched back from preview on Run
}

// Orchestrator is the per-session analysis state machine. All methods are
// safe for concurrent use; at most one Run is in flight at a time.
type Orchestrator struct {
	results  *analysis.Context
	analyzer Analyzer
	opts     Options
	log      *zap.Logger

	mu         sync.Mutex
	state      State
	sel        *selection
	progress   float64
	stage      string
	status     string
	loc        models.Coordinates
	locating   bool
	redirectTo string
	redirect   *time.Timer
}

// New creates an orchestrator bound to results. It adopts the location of the
// current result (or DefaultCoordinates) and, when the current result carries
// an RGB image, pre-selects it so it can be re-analysed without a new upload.
func New(results *analysis.Context, analyzer Analyzer, opts Options) *Orchestrator {
	opts.defaults()
	o := &Orchestrator{
		results:  results,
		analyzer: analyzer,
		opts:     opts,
		log:      opts.Logger,
		loc:      models.DefaultCoordinates,
	}
	cur := results.Result()
	if cur.HasLocation() {
		o.loc = models.Coordinates{Lat: *cur.Lat, Lon: *cur.Lon}
	}
	if cur.RGBURL != "" {
		o.sel = o.remoteSelection(cur.ImageName, cur.RGBURL)
		o.state = ImageSelected
	}
	return o
}

// Results returns the analysis context the workflow commits to.
func (o *Orchestrator) Results() *analysis.Context { return o.results }

// Select stores an uploaded image and builds its preview. No network call is made.
func (o *Orchestrator) Select(name, contentType string, data []byte) error {
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") || len(data) == 0 {
		return fmt.Errorf("%w: %s", ErrNotImage, contentType)
	}
	sel := &selection{
		name:    name,
		preview: "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
		data:    append([]byte(nil), data...),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Analyzing {
		return ErrBusy
	}
	o.selectLocked(sel)
	return nil
}

// SelectRemote selects an image that lives at ref (absolute or backend-relative).
func (o *Orchestrator) SelectRemote(name, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return ErrNoImage
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Analyzing {
		return ErrBusy
	}
	o.selectLocked(o.remoteSelection(name, ref))
	return nil
}

func (o *Orchestrator) remoteSelection(name, ref string) *selection {
	if name == "" {
		name = fallbackImageName
	}
	return &selection{name: name, preview: o.analyzer.ResolveURL(ref)}
}

func (o *Orchestrator) selectLocked(sel *selection) {
	o.stopRedirectLocked()
	o.sel = sel
	o.state = ImageSelected
	o.progress = 0
	o.stage = ""
	o.status = ""
	o.notifyLocked()
}

// Clear drops the selection and resets progress. It never touches the
// committed result.
func (o *Orchestrator) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Analyzing {
		return ErrBusy
	}
	o.stopRedirectLocked()
	o.sel = nil
	o.state = Idle
	o.progress = 0
	o.stage = ""
	o.status = ""
	o.notifyLocked()
	return nil
}

// Run analyses the selected image and returns once the run has resolved.
// Backend failures do not surface as an error: they revert the workflow to
// Idle with FailureMessage as status and leave the committed result alone.
// Run only returns ErrBusy or ErrNoImage.
func (o *Orchestrator) Run(ctx context.Context) error {
	done, err := o.Start(ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// Start moves the workflow into Analyzing synchronously and resolves the run
// in the background. The returned channel is closed once a terminal state has
// been written. A second Start while one is in flight gets ErrBusy.
func (o *Orchestrator) Start(ctx context.Context) (<-chan struct{}, error) {
	o.mu.Lock()
	if o.state == Analyzing {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	if o.sel == nil {
		o.mu.Unlock()
		return nil, ErrNoImage
	}
	sel := *o.sel
	o.stopRedirectLocked()
	o.state = Analyzing
	o.progress = 0
	o.stage = ""
	o.status = ""
	o.notifyLocked()
	o.mu.Unlock()

	o.results.SetAnalyzing(true)
	o.log.Info("analysis started", zap.String("image", sel.name), zap.String("session", o.results.Key()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.execute(ctx, sel)
	}()
	return done, nil
}

func (o *Orchestrator) execute(ctx context.Context, sel selection) {
	// The ticker lives exactly as long as the backend call: the call task
	// cancels it on return and Wait joins both before any terminal state.
	tickCtx, stopTicker := context.WithCancel(ctx)
	defer stopTicker()

	var (
		res     *models.AnalysisResult
		callErr error
		g       errgroup.Group
	)
	g.Go(func() error {
		o.tick(tickCtx)
		return nil
	})
	g.Go(func() error {
		defer stopTicker()
		res, callErr = o.analyze(ctx, sel)
		return nil
	})
	_ = g.Wait()

	if callErr != nil {
		o.fail(sel, callErr)
		return
	}
	o.complete(ctx, sel, *res)
}

func (o *Orchestrator) analyze(ctx context.Context, sel selection) (*models.AnalysisResult, error) {
	data := sel.data
	if data == nil {
		b, err := o.analyzer.FetchImage(ctx, sel.preview)
		if err != nil {
			return nil, fmt.Errorf("fetch preview: %w", err)
		}
		data = b
	}
	return o.analyzer.AnalyzeImage(ctx, sel.name, bytes.NewReader(data))
}

// tick advances through all but the last stage at a fixed cadence until ctx ends.
func (o *Orchestrator) tick(ctx context.Context) {
	t := time.NewTicker(o.opts.TickInterval)
	defer t.Stop()

	for i := 0; i < len(Stages)-1; i++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		o.mu.Lock()
		if ctx.Err() != nil {
			o.mu.Unlock()
			return
		}
		o.stage = Stages[i]
		o.progress = float64(i+1) / float64(len(Stages)) * 100
		o.notifyLocked()
		o.mu.Unlock()
	}
}

func (o *Orchestrator) complete(ctx context.Context, sel selection, res models.AnalysisResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Coordinates are read under the same lock as the commit, so the result
	// carries whatever location is held at commit time.
	final := res.Clone()
	final.Lat = models.Float(o.loc.Lat)
	final.Lon = models.Float(o.loc.Lon)
	if final.ImageName == "" {
		final.ImageName = sel.name
	}
	if final.Timestamp == "" {
		final.Timestamp = models.FormatTimestamp(o.opts.Now())
	}

	if err := o.results.SetResult(ctx, final); err != nil {
		o.failLocked(sel, err)
		return
	}
	o.results.SetAnalyzing(false)
	o.opts.Metrics.Analyses.WithLabelValues("success").Inc()

	o.state = Complete
	o.progress = 100
	o.stage = StageComplete
	o.status = ""
	o.notifyLocked()
	o.log.Info("analysis complete",
		zap.String("image", final.ImageName),
		zap.Float64("ndvi", final.NDVI),
		zap.String("severity", string(final.Severity)))

	o.redirect = time.AfterFunc(o.opts.RedirectDelay, func() {
		o.mu.Lock()
		if o.state != Complete {
			o.mu.Unlock()
			return
		}
		o.redirectTo = ResultsPath
		o.notifyLocked()
		o.mu.Unlock()
		if o.opts.OnComplete != nil {
			o.opts.OnComplete(final.Clone())
		}
	})
}

func (o *Orchestrator) fail(sel selection, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failLocked(sel, err)
}

func (o *Orchestrator) failLocked(sel selection, err error) {
	o.results.SetAnalyzing(false)
	o.opts.Metrics.Analyses.WithLabelValues("failure").Inc()
	o.log.Warn("analysis failed", zap.String("image", sel.name), zap.Error(err))

	// The selection stays so the user can retry without re-uploading.
	o.state = Idle
	o.stage = FailureMessage
	o.status = FailureMessage
	o.notifyLocked()
}

func (o *Orchestrator) stopRedirectLocked() {
	if o.redirect != nil {
		o.redirect.Stop()
		o.redirect = nil
	}
	o.redirectTo = ""
}

// Close cancels a pending redirect.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.stopRedirectLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) notifyLocked() {
	if o.opts.OnChange != nil {
		o.opts.OnChange(o.snapshotLocked())
	}
}
