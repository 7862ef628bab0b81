package workflow

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"fieldscan/models"

	"go.uber.org/zap"
)

// DefaultCaptureImagery are overhead farm views a simulated capture picks from.
var DefaultCaptureImagery = []string{
	"https://images.unsplash.com/photo-1500382017468-9049fed747ef",
	"https://images.unsplash.com/photo-1594411130634-91f93f545a64",
	"https://images.unsplash.com/photo-1563214589-9a7061d441f7",
}

const captureImageParams = "?auto=format&fit=crop&w=1600&q=90"

func randIntn(n int) int { return rand.IntN(n) }

// Capture simulates a satellite capture at c: it commits a result derived from
// the current one with the new location, a fresh timestamp, a capture image
// and sensor metadata, then selects that image for analysis.
func (o *Orchestrator) Capture(ctx context.Context, c models.Coordinates) (models.AnalysisResult, error) {
	if !c.Valid() {
		return models.AnalysisResult{}, ErrInvalidLocation
	}
	o.mu.Lock()
	busy := o.state == Analyzing
	o.mu.Unlock()
	if busy {
		return models.AnalysisResult{}, ErrBusy
	}

	if o.opts.CaptureDelay > 0 {
		t := time.NewTimer(o.opts.CaptureDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return models.AnalysisResult{}, ctx.Err()
		case <-t.C:
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Analyzing {
		return models.AnalysisResult{}, ErrBusy
	}

	r := o.results.Result()
	r.Lat = models.Float(c.Lat)
	r.Lon = models.Float(c.Lon)
	r.Timestamp = models.FormatTimestamp(o.opts.Now())
	r.RGBURL = o.opts.CaptureImagery[o.opts.Rand(len(o.opts.CaptureImagery))] + captureImageParams
	r.ImageName = fmt.Sprintf("SAT_CAPTURE_%.4f_%.4f.tiff", c.Lat, c.Lon)
	r.Metadata = &models.CaptureMetadata{
		Sensor:     "Sentinel-2A",
		Resolution: "10m",
		CloudCover: "0.02%",
		Bands:      []string{"B04", "B03", "B02", "B08"},
	}
	if err := o.results.SetResult(ctx, r); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("commit capture: %w", err)
	}

	o.loc = c
	o.selectLocked(o.remoteSelection(r.ImageName, r.RGBURL))
	o.log.Info("satellite capture committed", zap.String("image", r.ImageName))
	return r, nil
}
