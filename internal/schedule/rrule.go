package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// MaxOccurrences caps expansion so an unbounded or hostile rule cannot
// materialize an arbitrary number of rows.
const MaxOccurrences = 100

// Occurrence is one concrete interval produced by expanding a recurrence
// rule. Occurrences map 1:1 to persisted shifts.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// ExpandRecurrence expands an RFC-5545 recurrence rule against a template
// interval. The rule governs occurrence starts only; every occurrence keeps
// the template duration. An empty rule yields the template interval alone.
// A rule whose occurrences are exhausted (for example UNTIL before the
// template start) yields an empty slice and no error; a syntactically
// invalid rule fails with ErrValidation.
func ExpandRecurrence(rule string, start, end time.Time) ([]Occurrence, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end_time must be after start_time", ErrValidation)
	}
	duration := end.Sub(start)

	rule = strings.TrimSpace(rule)
	if rule == "" {
		return []Occurrence{{Start: start, End: end}}, nil
	}
	rule = strings.TrimPrefix(rule, "RRULE:")

	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, fmt.Errorf("%w: rrule: %v", ErrValidation, err)
	}
	opt.Dtstart = start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: rrule: %v", ErrValidation, err)
	}

	var (
		occurrences []Occurrence
		last        time.Time
	)
	next := r.Iterator()
	for len(occurrences) < MaxOccurrences {
		occStart, ok := next()
		if !ok {
			break
		}
		// Iterators are ordered; skip duplicates rather than trusting
		// every rule shape.
		if len(occurrences) > 0 && !occStart.After(last) {
			continue
		}
		occurrences = append(occurrences, Occurrence{
			Start: occStart,
			End:   occStart.Add(duration),
		})
		last = occStart
	}
	return occurrences, nil
}
