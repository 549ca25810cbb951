// Package timeutil centralizes the Beijing-time shard-naming convention used
// by every daily-sharded table: the shard suffix is a function of Beijing
// local date while every stored timestamp column remains UTC. This mismatch
// is deliberate and must be preserved exactly, or rows land in the wrong
// shard at day boundaries.
package timeutil

import "time"

// Beijing is UTC+8 with no daylight-saving rules.
var Beijing = time.FixedZone("CST", 8*60*60)

// ShardDate returns the YYYYMMDD shard suffix for a Unix-millisecond
// timestamp, computed in Beijing local time.
func ShardDate(tsMs int64) string {
	t := time.UnixMilli(tsMs).In(Beijing)
	return t.Format("20060102")
}

// ShardDateNow returns today's YYYYMMDD shard suffix in Beijing local time.
func ShardDateNow() string {
	return time.Now().In(Beijing).Format("20060102")
}

// ShardDatesInRange returns every distinct Beijing-date shard suffix whose day
// intersects [fromMs, toMs], inclusive, ascending.
func ShardDatesInRange(fromMs, toMs int64) []string {
	if toMs < fromMs {
		fromMs, toMs = toMs, fromMs
	}
	start := time.UnixMilli(fromMs).In(Beijing)
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, Beijing)
	end := time.UnixMilli(toMs).In(Beijing)

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format("20060102"))
	}
	return dates
}

// PreviousShardDate returns the Beijing-date shard suffix for the day before
// the one containing tsMs.
func PreviousShardDate(tsMs int64) string {
	t := time.UnixMilli(tsMs).In(Beijing).AddDate(0, 0, -1)
	return t.Format("20060102")
}

// NextDailyFire returns the next occurrence of hour:00:00 local time strictly
// after now, for scheduling the once-a-day retention/shard-precreate task
// (§4.1 fires at 01:00 local).
func NextDailyFire(now time.Time, hour int) time.Time {
	loc := now.Location()
	fire := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	if !fire.After(now) {
		fire = fire.AddDate(0, 0, 1)
	}
	return fire
}

// ShardDateBefore parses a YYYYMMDD shard suffix and reports whether it is
// strictly older than retentionDays before the reference time (evaluated in
// Beijing local time).
func ShardDateBefore(shardDate string, reference time.Time, retentionDays int) bool {
	d, err := time.ParseInLocation("20060102", shardDate, Beijing)
	if err != nil {
		return false
	}
	cutoff := reference.In(Beijing).AddDate(0, 0, -retentionDays)
	cutoff = time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, Beijing)
	return d.Before(cutoff)
}
