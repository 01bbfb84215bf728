package inquiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdjustRange(t *testing.T) {
	for _, tc := range []struct{ requested, available int }{
		{1, 1}, {1, 10}, {7, 6}, {30, 5}, {5, 30}, {3, 3},
	} {
		got := AdjustRange(tc.requested, tc.available)
		require.Equal(t, min(tc.requested, tc.available), got.Days)
		if tc.available < tc.requested {
			require.NotEmpty(t, got.Advisory)
		} else {
			require.Empty(t, got.Advisory)
		}
		require.LessOrEqual(t, got.Days, tc.requested)
	}
}

func TestAdjustRange_AdvisoryMentionsAvailableDays(t *testing.T) {
	got := AdjustRange(30, 5)
	require.Equal(t, 5, got.Days)
	require.Contains(t, got.Advisory, "5 días")
}

func TestAdjustRange_ZeroAgeKeepsOneDay(t *testing.T) {
	got := AdjustRange(7, 0)
	require.Equal(t, 1, got.Days)
	require.NotEmpty(t, got.Advisory)
}

func TestAgeInDays_UsesCalendarDates(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC)
	require.Equal(t, 1, AgeInDays(time.Date(2026, 3, 9, 23, 55, 0, 0, time.UTC), now))
	require.Equal(t, 0, AgeInDays(time.Date(2026, 3, 10, 0, 0, 1, 0, time.UTC), now))
	require.Equal(t, 5, AgeInDays(time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC), now))
	require.Equal(t, 0, AgeInDays(now.Add(48*time.Hour), now))
}

func TestCutoff(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	require.Equal(t, "2026-03-08", Cutoff(now, 2))
	require.Equal(t, "2026-02-28", Cutoff(now, 10))
}
