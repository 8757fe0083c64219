package utils

import "time"

// NowSeconds returns the current Unix time in whole seconds.
func NowSeconds() int64 {
	return time.Now().Unix()
}

// NowMillis returns the current Unix time in milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// DayStart returns midnight (local time) of the current day in seconds.
// Used as the creation timestamp of fresh collections so that day-based
// scheduling cutoffs land on day boundaries.
func DayStart() int64 {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start.Unix()
}
