package analysis

import (
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gridclimate/internal/model"
)

// Period selects which stored hours an analysis covers.
type Period struct {
	Label string
	From  time.Time // zero means open
	To    time.Time // zero means open
	Month time.Month
}

// AllTime covers everything stored.
var AllTime = Period{Label: "all"}

// ParsePeriod accepts "all", "YYYY-MM" for one month, or "MM" for that
// calendar month across every stored year.
func ParsePeriod(s string) (Period, error) {
	switch {
	case s == "" || s == "all":
		return AllTime, nil
	case len(s) == 7:
		start, err := time.ParseInLocation("2006-01", s, time.UTC)
		if err != nil {
			return Period{}, eris.Wrapf(err, "analysis: invalid period %q", s)
		}
		return Period{Label: s, From: start, To: start.AddDate(0, 1, 0).Add(-time.Hour)}, nil
	case len(s) == 2:
		m, err := strconv.Atoi(s)
		if err != nil || m < 1 || m > 12 {
			return Period{}, eris.Errorf("analysis: invalid month %q", s)
		}
		return Period{Label: s, Month: time.Month(m)}, nil
	default:
		return Period{}, eris.Errorf("analysis: invalid period %q (want all, YYYY-MM or MM)", s)
	}
}

// Apply drops hours outside a calendar-month period. Bounded periods are
// applied when loading.
func (p Period) Apply(s *model.Series) *model.Series {
	if p.Month == 0 {
		return s
	}
	return s.Filter(func(o model.Observation) bool { return o.Time.Month() == p.Month })
}
