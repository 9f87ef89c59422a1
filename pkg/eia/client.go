// Package eia provides a client for the EIA Open Data API v2 hourly
// electricity region data.
package eia

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gridclimate/internal/fetcher"
)

// Provider names EIA in errors and logs.
const Provider = "eia"

// DemandType is the EIA series type for measured demand. Forecasts ("DF"),
// net generation ("NG") and interchange ("TI") are ignored.
const DemandType = "D"

// MaxPageSize is the largest page the EIA v2 API serves. Larger length
// values are silently truncated to it.
const MaxPageSize = 5000

const periodLayout = "2006-01-02T15"

// Client defines the EIA operations.
type Client interface {
	// HourlyDemand returns measured demand for respondent over the days
	// [start, end], both inclusive, in period order.
	HourlyDemand(ctx context.Context, respondent string, start, end time.Time) ([]Reading, error)
}

// Reading is one hourly demand value. Value is nil when EIA reports null.
type Reading struct {
	Period     time.Time
	Respondent string
	Value      *float64
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom API root (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithPageSize sets the number of rows requested per page.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithFetcher sets the transport.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(c *httpClient) {
		c.fetcher = f
	}
}

type httpClient struct {
	apiKey   string
	baseURL  string
	pageSize int
	fetcher  fetcher.Fetcher
}

// NewClient creates an EIA client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		baseURL:  "https://api.eia.gov/v2",
		pageSize: MaxPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
	}
	return c
}

type regionDataResponse struct {
	Response *struct {
		Total flexNumber `json:"total"`
		Data  []struct {
			Period     string     `json:"period"`
			Respondent string     `json:"respondent"`
			Type       string     `json:"type"`
			Value      flexNumber `json:"value"`
		} `json:"data"`
	} `json:"response"`
}

func (c *httpClient) HourlyDemand(ctx context.Context, respondent string, start, end time.Time) ([]Reading, error) {
	if end.Before(start) {
		return nil, eris.Errorf("eia: start %s after end %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	var out []Reading
	var total int
	for offset := 0; ; {
		resp, err := fetcher.GetJSON[regionDataResponse](ctx, c.fetcher, Provider, c.pageURL(respondent, start, end, offset))
		if err != nil {
			return nil, err
		}
		if resp.Response == nil {
			return nil, fetcher.Malformed(Provider, eris.New("eia: response envelope missing"))
		}
		if v := resp.Response.Total.Value; v != nil {
			total = int(*v)
		}

		for _, row := range resp.Response.Data {
			if row.Type != DemandType {
				continue
			}
			period, err := time.ParseInLocation(periodLayout, row.Period, time.UTC)
			if err != nil {
				return nil, fetcher.Malformed(Provider, eris.Wrapf(err, "eia: period %q", row.Period))
			}
			out = append(out, Reading{Period: period, Respondent: row.Respondent, Value: row.Value.Value})
		}

		n := len(resp.Response.Data)
		offset += n
		if n == 0 {
			break
		}
		// A reported total is authoritative. The server may cap a page
		// below the requested length, so a short page alone does not end
		// the result set.
		if total > 0 {
			if offset >= total {
				break
			}
			continue
		}
		if n < c.pageSize {
			break
		}
	}

	if total == 0 && len(out) == 0 {
		return nil, fetcher.NotFound(Provider, eris.Errorf("eia: no demand data for respondent %q", respondent))
	}
	return out, nil
}

func (c *httpClient) pageURL(respondent string, start, end time.Time, offset int) string {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("frequency", "hourly")
	q.Set("data[0]", "value")
	q.Set("facets[respondent][]", respondent)
	q.Set("facets[type][]", DemandType)
	q.Set("start", start.UTC().Format(time.DateOnly)+"T00")
	q.Set("end", end.UTC().Format(time.DateOnly)+"T23")
	q.Set("sort[0][column]", "period")
	q.Set("sort[0][direction]", "asc")
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(c.pageSize))
	return c.baseURL + "/electricity/rto/region-data/data/?" + q.Encode()
}

// flexNumber accepts a JSON number, a numeric string or null. EIA has
// returned each of these for the same field.
type flexNumber struct {
	Value *float64
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		n.Value = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			n.Value = nil
			return nil
		}
		b = []byte(s)
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return eris.Wrapf(err, "eia: invalid number %s", b)
	}
	n.Value = &v
	return nil
}
