package openmeteo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/gridclimate/internal/fetcher"
	"github.com/sells-group/gridclimate/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var now = time.Date(2024, 10, 15, 13, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testFetcher() fetcher.Fetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Retry: resilience.RetryConfig{MaxAttempts: 1},
	})
}

func TestPlan(t *testing.T) {
	c := NewClient(
		WithClock(clockwork.NewFakeClockAt(now)),
		WithArchiveURL("archive"),
		WithForecastURL("forecast"),
		WithChunkDays(31),
	).(*httpClient)

	cutoff := date(2024, 7, 15) // 92 days before Oct 15

	tests := []struct {
		name       string
		start, end time.Time
		want       []window
	}{
		{
			name:  "old month goes to archive",
			start: date(2023, 1, 1), end: date(2023, 1, 31),
			want: []window{{date(2023, 1, 1), date(2023, 1, 31), "archive"}},
		},
		{
			name:  "recent days go to forecast",
			start: date(2024, 10, 1), end: date(2024, 10, 10),
			want: []window{{date(2024, 10, 1), date(2024, 10, 10), "forecast"}},
		},
		{
			name:  "future end is clamped to today",
			start: date(2024, 10, 10), end: date(2024, 10, 31),
			want: []window{{date(2024, 10, 10), date(2024, 10, 15), "forecast"}},
		},
		{
			name:  "range straddling the cutoff is split",
			start: date(2024, 7, 10), end: date(2024, 7, 20),
			want: []window{
				{date(2024, 7, 10), cutoff.AddDate(0, 0, -1), "archive"},
				{cutoff, date(2024, 7, 20), "forecast"},
			},
		},
		{
			name:  "long ranges are chunked",
			start: date(2022, 1, 1), end: date(2022, 3, 5),
			want: []window{
				{date(2022, 1, 1), date(2022, 1, 31), "archive"},
				{date(2022, 2, 1), date(2022, 3, 3), "archive"},
				{date(2022, 3, 4), date(2022, 3, 5), "archive"},
			},
		},
		{
			name:  "entirely future range is empty",
			start: date(2025, 1, 1), end: date(2025, 1, 2),
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.plan(tt.start, tt.end))
		})
	}
}

func hourlyBody(start time.Time, hours int, params ...string) string {
	var stamps []string
	for i := 0; i < hours; i++ {
		stamps = append(stamps, fmt.Sprintf("%q", start.Add(time.Duration(i)*time.Hour).Format(timeLayout)))
	}
	var cols []string
	for _, p := range params {
		var vals []string
		for i := 0; i < hours; i++ {
			if i == 1 {
				vals = append(vals, "null")
				continue
			}
			vals = append(vals, fmt.Sprintf("%d.5", i))
		}
		cols = append(cols, fmt.Sprintf("%q:[%s]", p, strings.Join(vals, ",")))
	}
	return fmt.Sprintf(`{"latitude":42,"longitude":-122.5,"hourly":{"time":[%s],%s}}`,
		strings.Join(stamps, ","), strings.Join(cols, ","))
}

func TestHourly_QueryAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "42", q.Get("latitude"))
		assert.Equal(t, "-122.5", q.Get("longitude"))
		assert.Equal(t, "2023-03-01", q.Get("start_date"))
		assert.Equal(t, "2023-03-01", q.Get("end_date"))
		assert.Equal(t, "temperature_2m,relative_humidity_2m", q.Get("hourly"))
		assert.Equal(t, "GMT", q.Get("timezone"))
		assert.Equal(t, "ms", q.Get("wind_speed_unit"))
		w.Write([]byte(hourlyBody(date(2023, 3, 1), 24, "temperature_2m", "relative_humidity_2m")))
	}))
	defer srv.Close()

	c := NewClient(WithArchiveURL(srv.URL), WithClock(clockwork.NewFakeClockAt(now)), WithFetcher(testFetcher()))
	h, err := c.Hourly(context.Background(), 42, -122.5, date(2023, 3, 1), date(2023, 3, 1),
		[]string{"temperature_2m", "relative_humidity_2m"})
	require.NoError(t, err)

	require.Equal(t, 24, h.Len())
	assert.Equal(t, date(2023, 3, 1), h.Times[0])
	require.Len(t, h.Values["temperature_2m"], 24)
	assert.Equal(t, 0.5, *h.Values["temperature_2m"][0])
	assert.Nil(t, h.Values["temperature_2m"][1])
	assert.Equal(t, 2.5, *h.Values["relative_humidity_2m"][2])
}

func TestHourly_ConcatenatesWindows(t *testing.T) {
	var mu sync.Mutex
	var starts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := r.URL.Query().Get("start_date")
		mu.Lock()
		starts = append(starts, start)
		mu.Unlock()
		d, _ := time.Parse(time.DateOnly, start)
		w.Write([]byte(hourlyBody(d, 48, "temperature_2m")))
	}))
	defer srv.Close()

	c := NewClient(
		WithArchiveURL(srv.URL),
		WithChunkDays(2),
		WithClock(clockwork.NewFakeClockAt(now)),
		WithFetcher(testFetcher()),
	)
	h, err := c.Hourly(context.Background(), 31, -100, date(2023, 1, 1), date(2023, 1, 4), []string{"temperature_2m"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-01-01", "2023-01-03"}, starts)
	assert.Equal(t, 96, h.Len())
	assert.Len(t, h.Values["temperature_2m"], 96)
}

func TestHourly_MissingParamIsAllNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(hourlyBody(date(2023, 3, 1), 3, "temperature_2m")))
	}))
	defer srv.Close()

	c := NewClient(WithArchiveURL(srv.URL), WithClock(clockwork.NewFakeClockAt(now)), WithFetcher(testFetcher()))
	h, err := c.Hourly(context.Background(), 1, 1, date(2023, 3, 1), date(2023, 3, 1), []string{"temperature_2m", "cloud_cover"})
	require.NoError(t, err)
	require.Len(t, h.Values["cloud_cover"], 3)
	for _, v := range h.Values["cloud_cover"] {
		assert.Nil(t, v)
	}
}

func TestHourly_Malformed(t *testing.T) {
	tests := map[string]string{
		"no hourly block": `{"latitude":1}`,
		"bad time":        `{"hourly":{"time":["yesterday"],"temperature_2m":[1]}}`,
		"length mismatch": `{"hourly":{"time":["2023-03-01T00:00","2023-03-01T01:00"],"temperature_2m":[1]}}`,
		"bad values":      `{"hourly":{"time":["2023-03-01T00:00"],"temperature_2m":["hot"]}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			c := NewClient(WithArchiveURL(srv.URL), WithClock(clockwork.NewFakeClockAt(now)), WithFetcher(testFetcher()))
			_, err := c.Hourly(context.Background(), 1, 1, date(2023, 3, 1), date(2023, 3, 1), []string{"temperature_2m"})
			require.Error(t, err)
			assert.True(t, fetcher.IsKind(err, fetcher.KindMalformedResponse), err.Error())
		})
	}
}

func TestHourly_BadCoordinatesIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":true,"reason":"Latitude must be in range of -90 to 90°."}`))
	}))
	defer srv.Close()

	c := NewClient(WithArchiveURL(srv.URL), WithClock(clockwork.NewFakeClockAt(now)), WithFetcher(testFetcher()))
	_, err := c.Hourly(context.Background(), 200, 1, date(2023, 3, 1), date(2023, 3, 1), []string{"temperature_2m"})
	assert.True(t, fetcher.IsKind(err, fetcher.KindNotFound))
}

func TestHourly_ArgumentErrors(t *testing.T) {
	c := NewClient(WithClock(clockwork.NewFakeClockAt(now)))

	_, err := c.Hourly(context.Background(), 1, 1, date(2023, 3, 2), date(2023, 3, 1), []string{"temperature_2m"})
	assert.Error(t, err)

	_, err = c.Hourly(context.Background(), 1, 1, date(2023, 3, 1), date(2023, 3, 1), nil)
	assert.Error(t, err)
}
