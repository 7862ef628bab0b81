// Package geo resolves a coarse platform location for a client.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"fieldscan/models"
)

// DefaultIPAPIURL is the ip-api.com JSON endpoint.
const DefaultIPAPIURL = "http://ip-api.com/json"

var ErrUnavailable = errors.New("geo: location unavailable")

// IPLocator looks up the location of an IP address through an ip-api.com
// compatible service. An empty IP asks for the caller's own address.
type IPLocator struct {
	BaseURL string
	IP      string
	HTTP    *http.Client
}

type ipAPIResp struct {
	Status  string  `json:"status"` // "success" | "fail"
	Message string  `json:"message,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (l IPLocator) Locate(ctx context.Context) (models.Coordinates, error) {
	base := l.BaseURL
	if base == "" {
		base = DefaultIPAPIURL
	}
	u := strings.TrimRight(base, "/")
	if ip := net.ParseIP(l.IP); ip != nil && !ip.IsLoopback() && !ip.IsPrivate() {
		u += "/" + ip.String()
	}
	u += "?fields=status,message,lat,lon"

	hc := l.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return models.Coordinates{}, fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
	var out ipAPIResp
	if err := json.Unmarshal(data, &out); err != nil {
		return models.Coordinates{}, fmt.Errorf("decode ip-api response: %w", err)
	}
	if out.Status != "success" {
		return models.Coordinates{}, fmt.Errorf("%w: %s", ErrUnavailable, out.Message)
	}
	return models.Coordinates{Lat: out.Lat, Lon: out.Lon}, nil
}

// ClientIP extracts the originating address of r, preferring the first
// X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
