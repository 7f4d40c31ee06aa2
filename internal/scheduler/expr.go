package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// starBit is set by the cron parser on fields written as "*" or "?".
const starBit = 1 << 63

var (
	ErrFieldCount  = errors.New("expression must have 5 fields")
	ErrNotNeutral  = errors.New("day, month and weekday must be *")
	ErrFieldSyntax = errors.New("minute and hour must be *, */N or a list of numbers")
	commaSpaceRune = regexp.MustCompile(`,\s+`)
	// cron also accepts ranges and anchored steps; schedules only allow these.
	timeField = regexp.MustCompile(`^(\*|\*/[0-9]+|[0-9]+(,[0-9]+)*)$`)
)

// Expression is a parsed schedule: every (Hour, Minute) pair fires once a day.
type Expression struct {
	Minutes []int
	Hours   []int
}

// Normalize rewrites the placeholder "@" to "*" and joins comma lists
// written with spaces ("0, 30" becomes "0,30").
func Normalize(expr string) string {
	expr = strings.ReplaceAll(strings.TrimSpace(expr), "@", "*")
	return commaSpaceRune.ReplaceAllString(expr, ",")
}

// Parse validates expr and expands its minute and hour fields.
func Parse(expr string) (Expression, error) {
	expr = Normalize(expr)
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Expression{}, fmt.Errorf("%w: got %d", ErrFieldCount, len(fields))
	}
	for _, f := range fields[:2] {
		if !timeField.MatchString(f) {
			return Expression{}, fmt.Errorf("%w: %q", ErrFieldSyntax, f)
		}
	}
	sched, err := cron.ParseStandard(strings.Join(fields, " "))
	if err != nil {
		return Expression{}, err
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return Expression{}, fmt.Errorf("unsupported schedule %T", sched)
	}
	if spec.Dom&starBit == 0 || spec.Month&starBit == 0 || spec.Dow&starBit == 0 {
		return Expression{}, ErrNotNeutral
	}
	e := Expression{Minutes: bits(spec.Minute, 59), Hours: bits(spec.Hour, 23)}
	if len(e.Minutes) == 0 || len(e.Hours) == 0 {
		return Expression{}, fmt.Errorf("expression %q never fires", expr)
	}
	return e, nil
}

func bits(mask uint64, max int) []int {
	var out []int
	for i := 0; i <= max; i++ {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// Validate reports whether expr is a usable schedule. It never panics on
// operator-authored input; callers treat false as "no schedule".
func Validate(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

// Occurrences returns every instant in (ref, ref+hours] at which expr fires,
// in ascending order and in ref's location. Invalid expressions yield nil.
func Occurrences(expr string, hours int, ref time.Time) []time.Time {
	e, err := Parse(expr)
	if err != nil {
		return nil
	}
	return e.Occurrences(hours, ref)
}

// Occurrences enumerates each (hour, minute) pair independently: the first
// matching instant after ref, then the same wall-clock time on each following
// day while inside the window.
func (e Expression) Occurrences(hours int, ref time.Time) []time.Time {
	if hours <= 0 {
		return nil
	}
	end := ref.Add(time.Duration(hours) * time.Hour)
	seen := make(map[int64]struct{})
	var out []time.Time
	for _, h := range e.Hours {
		for _, m := range e.Minutes {
			at := time.Date(ref.Year(), ref.Month(), ref.Day(), h, m, 0, 0, ref.Location())
			if !at.After(ref) {
				at = at.AddDate(0, 0, 1)
			}
			for ; !at.After(end); at = at.AddDate(0, 0, 1) {
				if _, dup := seen[at.Unix()]; dup {
					continue
				}
				seen[at.Unix()] = struct{}{}
				out = append(out, at)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// last returns the latest occurrence of expr in (at-24h, at], if any.
func last(expr string, at time.Time) (time.Time, bool) {
	occ := Occurrences(expr, 24, at.Add(-24*time.Hour))
	for i := len(occ) - 1; i >= 0; i-- {
		if !occ[i].After(at) {
			return occ[i], true
		}
	}
	return time.Time{}, false
}

// ShouldBeRunning reports the expected state at `at` for a resource with the
// given start and stop schedules: stopped when the most recent stop in the
// preceding day has no later start, running otherwise.
func ShouldBeRunning(startExpr, stopExpr string, at time.Time) bool {
	stop, ok := last(stopExpr, at)
	if !ok {
		return true
	}
	start, ok := last(startExpr, at)
	if !ok {
		return false
	}
	return start.After(stop)
}
