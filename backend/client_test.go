package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"fieldscan/models"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "http://backend.test"

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	return New(testBase, WithHTTPClient(&http.Client{Transport: mt})), mt
}

func TestNew_DefaultsBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New("").BaseURL())
	assert.Equal(t, "http://x.test", New(" http://x.test/ ").BaseURL())
}

func TestResolveURL(t *testing.T) {
	c := New(testBase)
	assert.Equal(t, testBase+"/static/ndvi_1.jpg", c.ResolveURL("/static/ndvi_1.jpg"))
	assert.Equal(t, testBase+"/static/rgb.jpg", c.ResolveURL("static/rgb.jpg"))
	assert.Equal(t, "https://img.test/a.jpg", c.ResolveURL("https://img.test/a.jpg"))
}

func TestAnalyzeImage_Success(t *testing.T) {
	c, mt := newTestClient(t)

	var gotName, gotContentType string
	var gotBody []byte
	mt.RegisterResponder(http.MethodPost, testBase+"/analyze", func(req *http.Request) (*http.Response, error) {
		f, hdr, err := req.FormFile("file")
		if err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
		}
		defer f.Close()
		gotName = hdr.Filename
		gotContentType = hdr.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(f)
		return httpmock.NewStringResponse(http.StatusOK,
			`{"ndvi":0.71,"affectedArea":12.0,"severity":"Low","confidence":98.2,"heatmapUrl":"/static/ndvi_1.jpg","insights":[{"title":"Optimal Growth Context","severity":"Low","recommendations":["Continue current irrigation"]}]}`), nil
	})

	img := []byte("\xff\xd8\xff\xe0fake-jpeg")
	res, err := c.AnalyzeImage(context.Background(), "field1.jpg", bytes.NewReader(img))
	require.NoError(t, err)

	assert.Equal(t, "field1.jpg", gotName)
	assert.Equal(t, "image/jpeg", gotContentType)
	assert.Equal(t, img, gotBody)

	assert.InDelta(t, 0.71, res.NDVI, 1e-9)
	assert.InDelta(t, 12.0, res.AffectedArea, 1e-9)
	assert.Equal(t, models.SeverityLow, res.Severity)
	assert.InDelta(t, 98.2, res.Confidence, 1e-9)
	assert.Equal(t, "/static/ndvi_1.jpg", res.HeatmapURL)
	require.Len(t, res.Insights, 1)
	assert.Equal(t, []string{"Continue current irrigation"}, res.Insights[0].Recommendations)
	assert.Nil(t, res.Lat)
}

func TestAnalyzeImage_NonSuccessStatus(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError, http.StatusBadGateway} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			c, mt := newTestClient(t)
			mt.RegisterResponder(http.MethodPost, testBase+"/analyze",
				httpmock.NewStringResponder(status, `{"detail":"boom"}`))

			res, err := c.AnalyzeImage(context.Background(), "a.jpg", strings.NewReader("x"))
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, ErrAnalysisFailed))
		})
	}
}

func TestAnalyzeImage_TransportError(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, testBase+"/analyze",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := c.AnalyzeImage(context.Background(), "a.jpg", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrAnalysisFailed)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAnalyzeImage_InvalidJSON(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, testBase+"/analyze",
		httpmock.NewStringResponder(http.StatusOK, `{invalid`))

	_, err := c.AnalyzeImage(context.Background(), "a.jpg", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrAnalysisFailed)
}

func TestGetDashboardStats(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, testBase+"/dashboard-stats",
		httpmock.NewStringResponder(http.StatusOK, `{
  "history": [{"date":"Week 1","ndvi":0.5,"threshold":0.4},{"date":"Scan 2","ndvi":0.31,"threshold":0.4,"filename":"f.jpg"}],
  "field_health_score": 38,
  "global_insights": [{"id":"irrigation","title":"Irrigation Efficiency","severity":"Medium","zone":"Full Coverage","confidence":92.1}]
}`))

	stats, err := c.GetDashboardStats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats.History, 2)
	assert.Equal(t, "Week 1", stats.History[0].Date)
	assert.False(t, stats.History[0].BelowThreshold())
	assert.True(t, stats.History[1].BelowThreshold())
	assert.Equal(t, 38, stats.FieldHealthScore)
	require.Len(t, stats.GlobalInsights, 1)
	require.NotNil(t, stats.GlobalInsights[0].Confidence)
	assert.InDelta(t, 92.1, *stats.GlobalInsights[0].Confidence, 1e-9)
}

func TestGetDashboardStats_Failure(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, testBase+"/dashboard-stats",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	stats, err := c.GetDashboardStats(context.Background())
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Nil(t, stats)
}

func TestGetWeather_QueryParameters(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponderWithQuery(http.MethodGet, testBase+"/weather",
		map[string]string{"lat": "40", "lon": "-75", "days": "3"},
		httpmock.NewStringResponder(http.StatusOK, `{
  "forecast": [{"date":"2026-10-16","temp_max":29.5,"temp_min":14.1,"humidity":70,"wind":12,"rain":0}],
  "predictive_alerts": [{"type":"Heat Stress","date":"2026-10-16","severity":"Medium","message":"hot"}]
}`))

	w, err := c.GetWeather(context.Background(), 40.0, -75.0, 3)
	require.NoError(t, err)
	require.Len(t, w.Forecast, 1)
	assert.InDelta(t, 29.5, w.Forecast[0].TempMax, 1e-9)
	require.Len(t, w.PredictiveAlerts, 1)
	assert.Equal(t, models.SeverityMedium, w.PredictiveAlerts[0].Severity)
	assert.Nil(t, w.Location)
}

func TestGetWeather_DefaultDays(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponderWithQuery(http.MethodGet, testBase+"/weather",
		map[string]string{"lat": "34.05", "lon": "-118.24", "days": "7"},
		httpmock.NewStringResponder(http.StatusOK, `{"forecast":[],"predictive_alerts":[]}`))

	_, err := c.GetWeather(context.Background(), 34.05, -118.24, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestGetWeather_Failure(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, `=~^`+testBase+`/weather`,
		httpmock.NewStringResponder(http.StatusInternalServerError, "oops"))

	_, err := c.GetWeather(context.Background(), 1, 2, 5)
	require.ErrorIs(t, err, ErrFetchFailed)
}

func TestFetchImage(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, testBase+"/static/rgb_1.jpg",
		httpmock.NewBytesResponder(http.StatusOK, []byte("jpeg-bytes")))
	mt.RegisterResponder(http.MethodGet, "https://img.test/missing.jpg",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	data, err := c.FetchImage(context.Background(), "/static/rgb_1.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	_, err = c.FetchImage(context.Background(), "https://img.test/missing.jpg")
	require.ErrorIs(t, err, ErrFetchFailed)
}
