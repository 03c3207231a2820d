package monitoring

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/htpc-reduce/internal/timeutil"
)

// DefaultProgressInterval is the minimum gap between progress lines.
const DefaultProgressInterval = 2 * time.Second

// Progress logs chunk progress through Logf at most once per interval.
// The first and final reports are always logged.
type Progress struct {
	label    string
	clock    timeutil.Clock
	started  time.Time
	throttle *rate.Sometimes
}

// NewProgress returns a reporter labelled label. A nil clock uses the real clock.
func NewProgress(label string, interval time.Duration, clock timeutil.Clock) *Progress {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &Progress{
		label:    label,
		clock:    clock,
		started:  clock.Now(),
		throttle: &rate.Sometimes{First: 1, Interval: interval},
	}
}

// Report records that done of total records have been consumed and rows
// output rows written so far.
func (p *Progress) Report(done, total, rows int) {
	if done >= total {
		p.log(done, total, rows)
		return
	}
	p.throttle.Do(func() { p.log(done, total, rows) })
}

func (p *Progress) log(done, total, rows int) {
	elapsed := p.clock.Since(p.started)
	pct := 100.0
	if total > 0 {
		pct = 100 * float64(done) / float64(total)
	}
	perSec := 0.0
	if s := elapsed.Seconds(); s > 0 {
		perSec = float64(done) / s
	}
	Logf("[%s] %d/%d events (%.1f%%), %d rows, %.0f events/s, elapsed %s",
		p.label, done, total, pct, rows, perSec, elapsed.Round(time.Millisecond))
}
