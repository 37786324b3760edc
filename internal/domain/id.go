package domain

import (
	"fmt"
	"math"
	"time"
)

// Keys are 19-digit zero-padded tick counts so lexical order equals numeric order.
// Drafts sort oldest-first; sent notifications invert the ticks to sort most-recent-first.

const idWidth = 19

// IDResolution is the smallest clock step that yields a different key.
const IDResolution = 100 * time.Nanosecond

func ticks(t time.Time) int64 {
	return t.UTC().UnixNano() / int64(IDResolution)
}

func NewDraftID(now time.Time) string {
	return fmt.Sprintf("%0*d", idWidth, ticks(now))
}

func NewSentNotificationID(now time.Time) string {
	return fmt.Sprintf("%0*d", idWidth, int64(math.MaxInt64)-ticks(now))
}
