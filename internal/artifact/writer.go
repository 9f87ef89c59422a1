package artifact

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridclimate/internal/correlate"
	"github.com/sells-group/gridclimate/internal/model"
)

// DefaultStatsName is used when no stats file name is configured.
const DefaultStatsName = "correlation_stats.csv"

// Kind classifies a WriteError.
type Kind int

const (
	// IOFailure means the sink rejected or failed the write.
	IOFailure Kind = iota
	// SerializationFailure means the document could not be encoded.
	SerializationFailure
)

func (k Kind) String() string {
	switch k {
	case IOFailure:
		return "io_failure"
	case SerializationFailure:
		return "serialization_failure"
	default:
		return "unknown"
	}
}

// WriteError is returned by Writer. The previous artifact is untouched.
type WriteError struct {
	Kind Kind
	Name string
	Err  error
}

func (e *WriteError) Error() string {
	return "artifact: " + e.Kind.String() + " writing " + e.Name + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error { return e.Err }

// Writer serializes documents and hands them to a sink.
type Writer struct {
	sink Sink
	log  *zap.Logger
}

// NewWriter returns a Writer over sink.
func NewWriter(sink Sink) *Writer {
	return &Writer{
		sink: sink,
		log:  zap.L().With(zap.String("component", "artifact.writer")),
	}
}

// FileName is the artifact name for a region.
func FileName(region string) string { return region + ".json" }

// Write publishes doc as <REGION>.json and returns its location.
func (w *Writer) Write(ctx context.Context, doc *Document) (string, error) {
	name := FileName(doc.Region)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", &WriteError{Kind: SerializationFailure, Name: name, Err: err}
	}
	data = append(data, '\n')

	loc, err := w.sink.Put(ctx, name, data)
	if err != nil {
		return "", &WriteError{Kind: IOFailure, Name: name, Err: err}
	}
	w.log.Debug("artifact written", zap.String("region", doc.Region), zap.String("location", loc))
	return loc, nil
}

// WriteStats publishes the run-level strength table under name.
func (w *Writer) WriteStats(ctx context.Context, name string, t *StatsTable) (string, error) {
	if name == "" {
		name = DefaultStatsName
	}
	data, err := t.CSV()
	if err != nil {
		return "", &WriteError{Kind: SerializationFailure, Name: name, Err: err}
	}
	loc, err := w.sink.Put(ctx, name, data)
	if err != nil {
		return "", &WriteError{Kind: IOFailure, Name: name, Err: err}
	}
	return loc, nil
}

// BandCounts tallies regions per strength band for one variable.
type BandCounts struct {
	StrongNegative int
	StrongPositive int
	Moderate       int
	Weak           int
}

// StatsTable accumulates strength bands across the regions written in a run.
// It is safe for concurrent use.
type StatsTable struct {
	mu     sync.Mutex
	order  []string
	counts map[string]*BandCounts
}

// NewStatsTable returns an empty table with one row per climate variable.
func NewStatsTable(vars []model.Variable) *StatsTable {
	t := &StatsTable{counts: make(map[string]*BandCounts, len(vars))}
	for _, v := range vars {
		t.order = append(t.order, v.Name)
		t.counts[v.Name] = &BandCounts{}
	}
	return t
}

// Add counts every correlated variable of doc. Insufficient entries are not
// counted.
func (t *StatsTable) Add(doc *Document) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, e := range doc.Correlations {
		if e.Correlation == nil {
			continue
		}
		c, ok := t.counts[name]
		if !ok {
			continue
		}
		switch e.Correlation.Strength {
		case correlate.Strong:
			if e.Correlation.Direction == correlate.Negative {
				c.StrongNegative++
			} else {
				c.StrongPositive++
			}
		case correlate.Moderate:
			c.Moderate++
		default:
			c.Weak++
		}
	}
}

// Counts returns a copy of the tally for variable.
func (t *StatsTable) Counts(variable string) BandCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counts[variable]; ok {
		return *c
	}
	return BandCounts{}
}

// CSV renders the table with a header row and one row per variable.
func (t *StatsTable) CSV() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write([]string{"variable", "strong_negative", "strong_positive", "moderate", "weak"}); err != nil {
		return nil, eris.Wrap(err, "artifact: write stats header")
	}
	for _, name := range t.order {
		c := t.counts[name]
		row := []string{
			name,
			strconv.Itoa(c.StrongNegative),
			strconv.Itoa(c.StrongPositive),
			strconv.Itoa(c.Moderate),
			strconv.Itoa(c.Weak),
		}
		if err := cw.Write(row); err != nil {
			return nil, eris.Wrapf(err, "artifact: write stats row %s", name)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, eris.Wrap(err, "artifact: flush stats")
	}
	return buf.Bytes(), nil
}
