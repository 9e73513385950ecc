package reporting

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var referencePattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{4})$`)

// ReferencePrefix returns the YYYY-MM prefix for the given instant.
func ReferencePrefix(at time.Time) string {
	return at.UTC().Format("2006-01")
}

// FormatReference builds a package reference from a month prefix and a
// sequence number, zero-padded to four digits.
func FormatReference(prefix string, seq int) string {
	return fmt.Sprintf("%s-%04d", prefix, seq)
}

// SequenceOf extracts the sequence number from a reference, or 0 when the
// reference does not match the expected shape.
func SequenceOf(reference string) int {
	m := referencePattern.FindStringSubmatch(reference)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return 0
	}
	return n
}
