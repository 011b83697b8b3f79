package model

import (
	"regexp"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// TSID is a minute-granularity timestamp identifier (YYYYMMDDHHmm). It is the
// display time of a turn and the key that links the three history tiers.
type TSID string

const tsidLayout = "200601021504"

var tsidPattern = regexp.MustCompile(`^\d{12}$`)

// ErrInvalidTSID is returned when a string is not a well-formed TSID
var ErrInvalidTSID = goerr.New("invalid tsid")

// NewTSID formats t as a TSID in t's location
func NewTSID(t time.Time) TSID {
	return TSID(t.Format(tsidLayout))
}

// ParseTSID validates s and returns it as TSID
func ParseTSID(s string) (TSID, error) {
	id := TSID(s)
	if !id.Valid() {
		return "", goerr.Wrap(ErrInvalidTSID, "failed to parse tsid", goerr.V("tsid", s))
	}
	return id, nil
}

// Valid reports whether the TSID is 12 digits and denotes a real calendar minute
func (x TSID) Valid() bool {
	if !tsidPattern.MatchString(string(x)) {
		return false
	}
	_, err := time.ParseInLocation(tsidLayout, string(x), time.Local)
	return err == nil
}

// Date returns the YYYY-MM-DD part of the TSID. It returns an empty string
// when the TSID is shorter than 8 characters.
func (x TSID) Date() string {
	if len(x) < 8 {
		return ""
	}
	return string(x[0:4]) + "-" + string(x[4:6]) + "-" + string(x[6:8])
}

// Time returns the minute the TSID denotes in loc
func (x TSID) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(tsidLayout, string(x), loc)
	if err != nil {
		return time.Time{}, goerr.Wrap(ErrInvalidTSID, "failed to parse tsid time", goerr.V("tsid", x))
	}
	return t, nil
}

func (x TSID) String() string {
	return string(x)
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// IsDate reports whether s is a YYYY-MM-DD calendar date
func IsDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

// DateOf formats t as YYYY-MM-DD
func DateOf(t time.Time) string {
	return t.Format(time.DateOnly)
}
