package source

import "time"

// FrameRateRegulator paces a read loop to a target FPS by sleeping off the
// remainder of each frame interval. A zero or negative FPS disables pacing.
type FrameRateRegulator struct {
	interval time.Duration
	last     time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

func NewFrameRateRegulator(targetFPS int) *FrameRateRegulator {
	var interval time.Duration
	if targetFPS > 0 {
		interval = time.Second / time.Duration(targetFPS)
	}
	return &FrameRateRegulator{
		interval: interval,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Wait blocks until the next frame slot. The first call returns
// immediately and arms the timer.
func (r *FrameRateRegulator) Wait() {
	if r.interval <= 0 {
		return
	}
	now := r.now()
	if !r.last.IsZero() {
		if remaining := r.interval - now.Sub(r.last); remaining > 0 {
			r.sleep(remaining)
			now = r.now()
		}
	}
	r.last = now
}
