package sensor

import (
	"net"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// Power-saving polling is quantized to whole 5-minute steps so
	// the relay duty cycle stays aligned with the meter's own
	// bookkeeping windows.
	IntervalStepSeconds = 300

	MinFrequencyMinutes = 1
	MaxFrequencyMinutes = 1440
)

var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,100}$`)

// ValidAddress reports whether addr parses as an IP address.
func ValidAddress(addr string) bool {
	return net.ParseIP(addr) != nil
}

// ValidID reports whether id is a well-formed sensor id.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ValidDeviceID reports whether id is an acceptable cloud device id.
func ValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// ValidFrequency reports whether a polling frequency in minutes is
// within the accepted range.
func ValidFrequency(minutes int) bool {
	return minutes >= MinFrequencyMinutes && minutes <= MaxFrequencyMinutes
}

// QuantizeInterval converts a requested frequency in minutes to a
// stored interval in seconds, rounded up to a whole 5-minute step
// with a 5-minute floor.
func QuantizeInterval(minutes int) int {
	return QuantizeSeconds(minutes * 60)
}

// QuantizeSeconds rounds an interval in seconds up to a whole
// 5-minute step with a 5-minute floor. Duty-cycled sensors always
// run on such an interval.
func QuantizeSeconds(seconds int) int {
	steps := (seconds + IntervalStepSeconds - 1) / IntervalStepSeconds
	if steps < 1 {
		steps = 1
	}
	return steps * IntervalStepSeconds
}

// SanitizeFilename strips characters that are unsafe in upload
// filenames and bounds the length.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), "_ .")
	if len(s) > 255 {
		s = s[:255]
	}
	return s
}
