package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	SaleNumberPrefix     = "FV"
	PurchaseNumberPrefix = "CO"
)

// FormatOrderNumber renders prefix + yyyyMMdd + a zero-padded daily sequence.
// Sequences above 999 widen the number rather than wrap.
func FormatOrderNumber(prefix string, date time.Time, seq int64) (string, error) {
	if seq <= 0 {
		return "", NewValidationError("sequence", "must be greater than zero")
	}
	return fmt.Sprintf("%s%s%03d", prefix, date.Format("20060102"), seq), nil
}

// SequenceDay is the counter key for date, e.g. "20240131".
func SequenceDay(date time.Time) string {
	return date.Format("20060102")
}

// ParseOrderSequence extracts the daily sequence from a number produced by
// FormatOrderNumber for the same prefix and day.
func ParseOrderSequence(prefix string, date time.Time, number string) (int64, bool) {
	rest, ok := strings.CutPrefix(number, prefix+SequenceDay(date))
	if !ok || rest == "" {
		return 0, false
	}
	seq, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}
