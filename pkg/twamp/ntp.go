package twamplight

import "time"

const ntpEpochOffset = 2208988800

// ntpTimestamp converts a time.Time to an NTP timestamp.
func ntpTimestamp(t time.Time) (uint32, uint32) {
	secs := uint32(t.Unix()) + ntpEpochOffset
	nanos := uint64(t.Nanosecond())
	frac := uint32((nanos * (1 << 32)) / 1e9)
	return secs, frac
}

// ntpTime converts an NTP timestamp back to a time.Time.
func ntpTime(sec, frac uint32) time.Time {
	nanos := (uint64(frac) * 1e9) >> 32
	return time.Unix(int64(sec)-ntpEpochOffset, int64(nanos))
}
