// Package openmeteo provides a client for the Open-Meteo historical and
// forecast weather APIs.
package openmeteo

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sells-group/gridclimate/internal/fetcher"
)

// Provider names Open-Meteo in errors and logs.
const Provider = "open-meteo"

const timeLayout = "2006-01-02T15:04"

// Client defines the Open-Meteo operations.
type Client interface {
	// Hourly returns the requested hourly parameters at (lat, lng) over the
	// days [start, end], both inclusive. Days in the future are omitted.
	Hourly(ctx context.Context, lat, lng float64, start, end time.Time, params []string) (*Hourly, error)
}

// Hourly holds parallel hourly arrays. Values[param][i] belongs to Times[i];
// a nil entry means the provider had no reading.
type Hourly struct {
	Times  []time.Time
	Values map[string][]*float64
}

// Len returns the number of hours.
func (h *Hourly) Len() int { return len(h.Times) }

// Option configures the client.
type Option func(*httpClient)

// WithArchiveURL sets the historical endpoint (for testing).
func WithArchiveURL(u string) Option {
	return func(c *httpClient) { c.archiveURL = u }
}

// WithForecastURL sets the forecast endpoint (for testing).
func WithForecastURL(u string) Option {
	return func(c *httpClient) { c.forecastURL = u }
}

// WithForecastDays sets how far back the forecast endpoint is used. Older
// days go to the archive.
func WithForecastDays(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.forecastDays = n
		}
	}
}

// WithChunkDays caps the number of days per request.
func WithChunkDays(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.chunkDays = n
		}
	}
}

// WithClock sets the clock used to decide which endpoint serves a day.
func WithClock(clock clockwork.Clock) Option {
	return func(c *httpClient) { c.clock = clock }
}

// WithFetcher sets the transport.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(c *httpClient) { c.fetcher = f }
}

type httpClient struct {
	archiveURL   string
	forecastURL  string
	forecastDays int
	chunkDays    int
	clock        clockwork.Clock
	fetcher      fetcher.Fetcher
}

// NewClient creates an Open-Meteo client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		archiveURL:   "https://archive-api.open-meteo.com/v1/archive",
		forecastURL:  "https://api.open-meteo.com/v1/forecast",
		forecastDays: 92,
		chunkDays:    31,
		clock:        clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
	}
	return c
}

// window is one request: a day range and the endpoint serving it.
type window struct {
	start, end time.Time
	endpoint   string
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// plan splits [start, end] into requests. Days before today-forecastDays go
// to the archive, later days up to today to the forecast endpoint, and
// future days are dropped. Each request covers at most chunkDays days.
func (c *httpClient) plan(start, end time.Time) []window {
	start, end = day(start), day(end)
	today := day(c.clock.Now())
	if end.After(today) {
		end = today
	}
	cutoff := today.AddDate(0, 0, -c.forecastDays)

	var out []window
	add := func(from, to time.Time, endpoint string) {
		for s := from; !s.After(to); s = s.AddDate(0, 0, c.chunkDays) {
			e := s.AddDate(0, 0, c.chunkDays-1)
			if e.After(to) {
				e = to
			}
			out = append(out, window{start: s, end: e, endpoint: endpoint})
		}
	}

	if start.Before(cutoff) {
		archiveEnd := end
		if !archiveEnd.Before(cutoff) {
			archiveEnd = cutoff.AddDate(0, 0, -1)
		}
		add(start, archiveEnd, c.archiveURL)
		start = cutoff
	}
	if !start.After(end) {
		add(start, end, c.forecastURL)
	}
	return out
}

func (c *httpClient) Hourly(ctx context.Context, lat, lng float64, start, end time.Time, params []string) (*Hourly, error) {
	if end.Before(start) {
		return nil, eris.Errorf("openmeteo: start %s after end %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	if len(params) == 0 {
		return nil, eris.New("openmeteo: no hourly parameters requested")
	}

	out := &Hourly{Values: make(map[string][]*float64, len(params))}
	for _, w := range c.plan(start, end) {
		resp, err := fetcher.GetJSON[hourlyResponse](ctx, c.fetcher, Provider, c.windowURL(w, lat, lng, params))
		if err != nil {
			return nil, err
		}
		if err := resp.appendTo(out, params); err != nil {
			return nil, fetcher.Malformed(Provider, err)
		}
	}
	return out, nil
}

func (c *httpClient) windowURL(w window, lat, lng float64, params []string) string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("start_date", w.start.Format(time.DateOnly))
	q.Set("end_date", w.end.Format(time.DateOnly))
	q.Set("hourly", strings.Join(params, ","))
	q.Set("timezone", "GMT")
	q.Set("wind_speed_unit", "ms")
	return w.endpoint + "?" + q.Encode()
}

type hourlyResponse struct {
	Hourly map[string]json.RawMessage `json:"hourly"`
}

func (r *hourlyResponse) appendTo(out *Hourly, params []string) error {
	if r.Hourly == nil {
		return eris.New("openmeteo: hourly block missing")
	}
	var stamps []string
	if err := json.Unmarshal(r.Hourly["time"], &stamps); err != nil {
		return eris.Wrap(err, "openmeteo: decode time axis")
	}
	times := make([]time.Time, len(stamps))
	for i, s := range stamps {
		t, err := time.ParseInLocation(timeLayout, s, time.UTC)
		if err != nil {
			return eris.Wrapf(err, "openmeteo: time %q", s)
		}
		times[i] = t
	}

	cols := make(map[string][]*float64, len(params))
	for _, p := range params {
		raw, ok := r.Hourly[p]
		if !ok {
			// Unsupported parameter: every hour is missing.
			cols[p] = make([]*float64, len(times))
			continue
		}
		var vals []*float64
		if err := json.Unmarshal(raw, &vals); err != nil {
			return eris.Wrapf(err, "openmeteo: decode %s", p)
		}
		if len(vals) != len(times) {
			return eris.Errorf("openmeteo: %s has %d values for %d hours", p, len(vals), len(times))
		}
		cols[p] = vals
	}

	out.Times = append(out.Times, times...)
	for _, p := range params {
		out.Values[p] = append(out.Values[p], cols[p]...)
	}
	return nil
}
