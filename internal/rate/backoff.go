package rate

import "time"

// Backoff doubles a delay starting from Base, capped at Max. After Reset the
// delay is Base again.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	current time.Duration
}

// Next doubles the current delay and returns it.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Base
	}
	b.current *= 2
	if b.Max > 0 && b.current > b.Max {
		b.current = b.Max
	}
	return b.current
}

// Current is the delay to apply without advancing the schedule.
func (b *Backoff) Current() time.Duration {
	if b.current == 0 {
		return b.Base
	}
	return b.current
}

func (b *Backoff) Reset() {
	b.current = 0
}
