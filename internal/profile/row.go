package profile

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Row is one line of a profile: the time in seconds since the start of the
// run and the setpoint that becomes active at that time.
type Row struct {
	Time     float64
	Setpoint float64
}

// ParseRow decodes a whitespace and/or comma separated line. Columns after
// the second are ignored.
func ParseRow(line string) (Row, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) < 2 {
		return Row{}, fmt.Errorf("%w: %q has %d columns", ErrMalformedRow, strings.TrimSpace(line), len(fields))
	}

	t, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Row{}, fmt.Errorf("%w: time %q", ErrMalformedRow, fields[0])
	}
	sp, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Row{}, fmt.Errorf("%w: setpoint %q", ErrMalformedRow, fields[1])
	}
	return Row{Time: t, Setpoint: sp}, nil
}
