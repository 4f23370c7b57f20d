// Package cnj normalizes and decomposes CNJ-format judicial process numbers
// (NNNNNNN-DD.AAAA.J.TR.OOOO), the business key correlating cases with
// external lookups.
package cnj

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalid is returned when a value cannot be read as a CNJ number.
var ErrInvalid = eris.New("cnj: invalid process number")

var nonDigits = regexp.MustCompile(`\D`)

// A CNJ number has exactly 20 digits: 7 sequential, 2 check, 4 year,
// 1 segment, 2 court, 4 origin.
const digitCount = 20

// Number is a parsed CNJ process number.
type Number struct {
	Sequential string `json:"sequential"`
	CheckDigit string `json:"check_digit"`
	Year       string `json:"year"`
	Segment    string `json:"segment"`
	Court      string `json:"court"`
	Origin     string `json:"origin"`
}

// Parse reads a CNJ number in canonical or digits-only form.
func Parse(raw string) (Number, error) {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) != digitCount {
		return Number{}, eris.Wrapf(ErrInvalid, "%q has %d digits, want %d", raw, len(digits), digitCount)
	}
	return Number{
		Sequential: digits[0:7],
		CheckDigit: digits[7:9],
		Year:       digits[9:13],
		Segment:    digits[13:14],
		Court:      digits[14:16],
		Origin:     digits[16:20],
	}, nil
}

// Normalize returns the canonical NNNNNNN-DD.AAAA.J.TR.OOOO form, accepting
// any input with the right digits in the right order.
func Normalize(raw string) (string, error) {
	n, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

// Valid reports whether raw parses as a CNJ number.
func Valid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

func (n Number) String() string {
	return fmt.Sprintf("%s-%s.%s.%s.%s.%s",
		n.Sequential, n.CheckDigit, n.Year, n.Segment, n.Court, n.Origin)
}

// CourtCode returns the segment+court identifier the provider uses to scope
// attachment downloads (e.g. "8.26" for TJSP).
func (n Number) CourtCode() string {
	court := strings.TrimLeft(n.Court, "0")
	if court == "" {
		court = "0"
	}
	return n.Segment + "." + court
}

// Instance returns the originating unit code with leading zeros dropped.
func (n Number) Instance() string {
	inst := strings.TrimLeft(n.Origin, "0")
	if inst == "" {
		return "0"
	}
	return inst
}
