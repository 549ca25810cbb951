package timeutil

import (
	"testing"
	"time"
)

// TestShardDate_MidnightBoundary checks a snapshot arriving exactly at
// Beijing midnight is assigned to the NEW day's shard (§8 boundary case).
func TestShardDate_MidnightBoundary(t *testing.T) {
	// 2024-03-01 00:00:00 Beijing == 2024-02-29 16:00:00 UTC.
	midnightBeijing := time.Date(2024, 3, 1, 0, 0, 0, 0, Beijing)
	tsMs := midnightBeijing.UnixMilli()

	got := ShardDate(tsMs)
	if got != "20240301" {
		t.Errorf("ShardDate at Beijing midnight = %v, want 20240301", got)
	}

	oneMsBefore := ShardDate(tsMs - 1)
	if oneMsBefore != "20240229" {
		t.Errorf("ShardDate 1ms before Beijing midnight = %v, want 20240229", oneMsBefore)
	}
}

// TestShardDate_UTCColumnPreservesBeijingShardMismatch checks the
// deliberate mismatch: a timestamp whose UTC date differs from its Beijing
// date still shards by Beijing date (§9 Open Question, preserved exactly).
func TestShardDate_UTCColumnPreservesBeijingShardMismatch(t *testing.T) {
	// 2024-03-01 02:00:00 UTC == 2024-03-01 10:00:00 Beijing: same UTC date,
	// not the interesting case. Pick one where they diverge:
	// 2024-03-01 20:00:00 UTC == 2024-03-02 04:00:00 Beijing.
	utcTime := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	tsMs := utcTime.UnixMilli()

	got := ShardDate(tsMs)
	if got != "20240302" {
		t.Errorf("ShardDate = %v, want 20240302 (Beijing date), UTC date was 20240301", got)
	}
}

func TestShardDatesInRange_SingleDay(t *testing.T) {
	start := time.Date(2024, 6, 1, 1, 0, 0, 0, Beijing).UnixMilli()
	end := time.Date(2024, 6, 1, 23, 0, 0, 0, Beijing).UnixMilli()
	got := ShardDatesInRange(start, end)
	want := []string{"20240601"}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("ShardDatesInRange = %v, want %v", got, want)
	}
}

func TestShardDatesInRange_SpansMultipleDays(t *testing.T) {
	start := time.Date(2024, 6, 1, 23, 0, 0, 0, Beijing).UnixMilli()
	end := time.Date(2024, 6, 3, 1, 0, 0, 0, Beijing).UnixMilli()
	got := ShardDatesInRange(start, end)
	want := []string{"20240601", "20240602", "20240603"}
	if len(got) != len(want) {
		t.Fatalf("ShardDatesInRange = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ShardDatesInRange[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNextDailyFire_BeforeAndAfterHour(t *testing.T) {
	before := time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC)
	got := NextDailyFire(before, 1)
	want := time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextDailyFire(before 01:00) = %v, want %v", got, want)
	}

	after := time.Date(2024, 6, 1, 1, 30, 0, 0, time.UTC)
	got = NextDailyFire(after, 1)
	want = time.Date(2024, 6, 2, 1, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextDailyFire(after 01:00) = %v, want %v", got, want)
	}
}

func TestShardDateBefore_RetentionCutoff(t *testing.T) {
	ref := time.Date(2024, 6, 22, 1, 0, 0, 0, Beijing)
	if !ShardDateBefore("20240601", ref, 20) {
		t.Error("expected 2024-06-01 to be older than a 20-day retention window evaluated on 2024-06-22")
	}
	if ShardDateBefore("20240602", ref, 20) {
		t.Error("expected 2024-06-02 to still be within a 20-day retention window evaluated on 2024-06-22")
	}
}
