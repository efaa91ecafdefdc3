// Package score turns raw model scores into the number typed into the grading UI.
package score

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparseable is returned when a value holds no usable number.
var ErrUnparseable = errors.New("score is not a number")

var reNumber = regexp.MustCompile(`-?\d+\.?\d*`)

// Sanitize converts a decoded JSON value into a finite float. Numbers pass through;
// strings yield their first number; anything else fails.
func Sanitize(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		m := reNumber.FindString(n)
		if m == "" {
			return 0, fmt.Errorf("%w: %q", ErrUnparseable, n)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(m, "."), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnparseable, n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: %v (%T)", ErrUnparseable, v, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrUnparseable, v)
	}
	return f, nil
}

// RoundToStep rounds half-up to the nearest multiple of step. A step <= 0 leaves
// the value unchanged.
func RoundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	q := math.Floor(v/step + 0.5)
	// trim binary noise such as 7.500000000001
	return math.Round(q*step*1e9) / 1e9
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SnapInside moves v onto the nearest step multiple that still lies in
// [lo, hi]. It returns v unchanged when no multiple fits.
func SnapInside(v, lo, hi, step float64) float64 {
	if step <= 0 {
		return v
	}
	const eps = 1e-9
	q := v / step
	if math.Abs(q-math.Round(q)) < eps {
		return v
	}
	var snapped float64
	if v >= hi {
		snapped = math.Floor(q+eps) * step
	} else {
		snapped = math.Ceil(q-eps) * step
	}
	snapped = math.Round(snapped*1e9) / 1e9
	if snapped < lo || snapped > hi {
		return v
	}
	return snapped
}

// Result is a processed score plus a description of what changed.
type Result struct {
	Final float64
	Trace string
}

// Processor runs the sanitize, round, clamp pipeline and logs corrections.
type Processor struct {
	logger *slog.Logger
}

func NewProcessor(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger}
}

// Process sanitizes raw, rounds it to step and clamps it to [lo, hi].
func (p *Processor) Process(raw any, lo, hi, step float64) (Result, error) {
	var steps []string

	sanitized, err := Sanitize(raw)
	if err != nil {
		return Result{}, fmt.Errorf("sanitize score: %w", err)
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) != format(sanitized) {
		steps = append(steps, fmt.Sprintf("sanitize: %s -> %s", s, format(sanitized)))
	}

	rounded := RoundToStep(sanitized, step)
	if rounded != sanitized {
		steps = append(steps, fmt.Sprintf("round(step %s): %s -> %s", format(step), format(sanitized), format(rounded)))
	}

	final := Clamp(rounded, lo, hi)
	if final != rounded {
		p.logger.Warn("score.clamped", "score", rounded, "min", lo, "max", hi, "final", final)
		steps = append(steps, fmt.Sprintf("clamp: %s -> %s", format(rounded), format(final)))
		// a bound off the step grid would be re-rounded on the next pass
		if snapped := SnapInside(final, lo, hi, step); snapped != final {
			steps = append(steps, fmt.Sprintf("snap(step %s): %s -> %s", format(step), format(final), format(snapped)))
			final = snapped
		}
	}

	trace := strings.Join(steps, " | ")
	if trace == "" {
		trace = "no processing: " + format(final)
	}
	return Result{Final: final, Trace: trace}, nil
}

// ProcessItemized sanitizes every entry and sums them. One bad entry fails the whole list.
func ProcessItemized(list []any) ([]float64, float64, error) {
	out := make([]float64, 0, len(list))
	var total float64
	for i, v := range list {
		f, err := Sanitize(v)
		if err != nil {
			return nil, 0, fmt.Errorf("itemized score [%d]: %w", i, err)
		}
		out = append(out, f)
		total += f
	}
	return out, total, nil
}

func format(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
