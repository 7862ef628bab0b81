// Package backend is a thin client for the external field analysis API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fieldscan/metrics"
	"fieldscan/models"

	"go.uber.org/zap"
)

// DefaultBaseURL is used when no override is configured.
const DefaultBaseURL = "https://precision-agriculture-ai-backend.onrender.com"

var (
	// ErrAnalysisFailed is returned by AnalyzeImage for any transport error or non-2xx status.
	ErrAnalysisFailed = errors.New("analysis failed")
	// ErrFetchFailed is returned by the read-only calls for any transport error or non-2xx status.
	ErrFetchFailed = errors.New("fetch failed")
)

// Client talks to one backend base URL. It sets no request timeout and never
// retries; cancellation is up to the caller's context.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithLogger(l *zap.Logger) Option        { return func(c *Client) { c.log = l } }
func WithMetrics(m *metrics.Metrics) Option  { return func(c *Client) { c.metrics = m } }

// New returns a client for baseURL. An empty baseURL means DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		log:     zap.NewNop(),
		metrics: metrics.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// ResolveURL turns a backend-relative reference such as "/static/ndvi_1.jpg"
// into an absolute URL. Absolute references are returned unchanged.
func (c *Client) ResolveURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref
}

// AnalyzeImage uploads the image as multipart field "file" to POST /analyze.
func (c *Client) AnalyzeImage(ctx context.Context, name string, r io.Reader) (*models.AnalysisResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", ErrAnalysisFailed, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", imageContentType(data))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("%w: build form: %v", ErrAnalysisFailed, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("%w: build form: %v", ErrAnalysisFailed, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%w: build form: %v", ErrAnalysisFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", &body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrAnalysisFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var out models.AnalysisResult
	if err := c.do(req, "analyze", &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	return &out, nil
}

// GetDashboardStats calls GET /dashboard-stats.
func (c *Client) GetDashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	var out models.DashboardStats
	if err := c.getJSON(ctx, "dashboard_stats", "/dashboard-stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWeather calls GET /weather. days <= 0 requests the default range.
func (c *Client) GetWeather(ctx context.Context, lat, lon float64, days int) (*models.WeatherReport, error) {
	if days <= 0 {
		days = models.DefaultForecastDays
	}
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("days", strconv.Itoa(days))

	var out models.WeatherReport
	if err := c.getJSON(ctx, "weather", "/weather", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchImage downloads an absolute or backend-relative image reference.
func (c *Client) FetchImage(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ResolveURL(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetchFailed, err)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe("image", "error", start)
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe("image", "http_error", start)
		return nil, fmt.Errorf("%w: image %s", ErrFetchFailed, resp.Status)
	}
	if err != nil {
		c.observe("image", "error", start)
		return nil, fmt.Errorf("%w: read image: %v", ErrFetchFailed, err)
	}
	c.observe("image", "ok", start)
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if err := c.do(req, endpoint, out); err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return nil
}

// do executes req and decodes a 2xx JSON body into out. 4xx and 5xx are not distinguished.
func (c *Client) do(req *http.Request, endpoint string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(endpoint, "error", start)
		c.log.Warn("backend call failed", zap.String("endpoint", endpoint), zap.Error(err))
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe(endpoint, "http_error", start)
		c.log.Warn("backend non-2xx",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(data), 512)))
		return fmt.Errorf("%s %s: backend non-2xx: %s", req.Method, req.URL.Path, resp.Status)
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.observe(endpoint, "decode_error", start)
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	c.observe(endpoint, "ok", start)
	c.log.Debug("backend call ok", zap.String("endpoint", endpoint), zap.Duration("took", time.Since(start)))
	return nil
}

func (c *Client) observe(endpoint, outcome string, start time.Time) {
	c.metrics.BackendRequests.WithLabelValues(endpoint, outcome).Inc()
	c.metrics.BackendLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// imageContentType sniffs data, defaulting to JPEG for anything that is not
// recognisably another image type.
func imageContentType(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
