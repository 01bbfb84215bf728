package inquiry

import (
	"fmt"
	"time"

	"inventory-agent/internal/domain"
)

const hoursPerDay = 24

// AgeInDays counts whole UTC calendar days between earliest and now.
// Records dated in the future count as age 0.
func AgeInDays(earliest, now time.Time) int {
	days := int(utcDate(now).Sub(utcDate(earliest)).Hours() / hoursPerDay)
	if days < 0 {
		return 0
	}
	return days
}

// AdjustRange clamps the requested day count to the available history.
// An advisory is set iff available < requested. The effective range never
// drops below one day, so history that only started today still yields a
// one-day query.
func AdjustRange(requested, available int) domain.EffectiveRange {
	if available >= requested {
		return domain.EffectiveRange{Days: requested}
	}
	effective := available
	if effective < 1 {
		effective = 1
	}
	return domain.EffectiveRange{
		Days: effective,
		Advisory: fmt.Sprintf(
			"Solo hay %s de historial disponibles para este producto; los resultados se limitan a %s.",
			dayCount(available), dayCount(effective),
		),
	}
}

// Cutoff returns the first calendar date (UTC, "2006-01-02") included in a
// range of days ending today.
func Cutoff(now time.Time, days int) string {
	return utcDate(now).AddDate(0, 0, -days).Format(time.DateOnly)
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
