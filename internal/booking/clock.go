package booking

import "time"

// Clock supplies the current time. All expiry comparisons go through it so
// tests can step time deterministically.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
