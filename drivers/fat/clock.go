package fat

// This file implements the inverse of dirent.go's DateFromInt/
// TimestampFromParts: packing a time.Time back into the 16-bit date/time
// words FAT stores on disk. FAT timestamps only have two-second resolution
// and can't represent anything before 1980-01-01 or after 2107-12-31.

import "time"

// EpochStart is the earliest timestamp representable on a FAT volume.
var EpochStart = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// clampToFATEpoch pins t into FAT's representable range instead of letting
// the bit-packing below wrap silently.
func clampToFATEpoch(t time.Time) time.Time {
	maxTime := time.Date(2107, time.December, 31, 23, 59, 58, 0, time.UTC)
	if t.Before(EpochStart) {
		return EpochStart
	}
	if t.After(maxTime) {
		return maxTime
	}
	return t
}

// dateToInt packs a date into FAT's 16-bit date word: bits 0-4 day, 5-8
// month, 9-15 years since 1980.
func dateToInt(t time.Time) uint16 {
	t = clampToFATEpoch(t)
	day := uint16(t.Day())
	month := uint16(t.Month())
	year := uint16(t.Year() - 1980)
	return (year << 9) | (month << 5) | day
}

// timeToInt packs a time-of-day into FAT's 16-bit time word: bits 0-4
// seconds/2, 5-10 minutes, 11-15 hours.
func timeToInt(t time.Time) uint16 {
	seconds := uint16(t.Second() / 2)
	minutes := uint16(t.Minute())
	hours := uint16(t.Hour())
	return (hours << 11) | (minutes << 5) | seconds
}

// hundredthsOf returns the CreatedTimeMillis field's value: the sub-2-second
// remainder of t's time, in hundredths of a second.
func hundredthsOf(t time.Time) uint8 {
	remainder := t.Second() % 2
	hundredths := remainder*100 + t.Nanosecond()/10000000
	return uint8(hundredths)
}
