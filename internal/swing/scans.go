package swing

import (
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

// byLastBars re-examines the window of bars that followed the bar at offset
// RetroWindow. When the whole window stayed on the far side of that reference
// bar and made a strictly new extreme, the leg is reversed and the new leg is
// anchored at that extreme, which may be older than the current bar.
func (p *pass) byLastBars() error {
	c := p.c
	if !c.Directed() || c.LastWorkingPoint.IsZero() {
		return nil
	}
	w := p.engine.cfg.retroWindow()
	bars := p.engine.history.LatestBars(w + 11)
	if len(bars) < w+11 {
		return nil
	}
	ref := bars[w]
	if c.LastWorkingPoint.After(ref.Time) {
		return nil
	}
	window := bars[:w]

	if p.up() {
		if t, ok := lowerByLastBars(ref, window); ok {
			return p.reverse(models.DirectionDown, CauseLastBars, t)
		}
		return nil
	}
	if t, ok := higherByLastBars(ref, window); ok {
		return p.reverse(models.DirectionUp, CauseLastBars, t)
	}
	return nil
}

// lowerByLastBars requires every window bar to have a high and a low no
// greater than the reference bar, and returns the earliest bar holding a low
// strictly below it. window is most recent first.
func lowerByLastBars(ref models.Bar, window []models.Bar) (time.Time, bool) {
	lowest := ref
	for i := len(window) - 1; i >= 0; i-- {
		cur := window[i]
		if cur.Low > ref.Low || cur.High > ref.High {
			return time.Time{}, false
		}
		if cur.Low < lowest.Low {
			lowest = cur
		}
	}
	if lowest.Time.Equal(ref.Time) {
		return time.Time{}, false
	}
	return lowest.Time, true
}

// higherByLastBars mirrors lowerByLastBars for an upward reversal.
func higherByLastBars(ref models.Bar, window []models.Bar) (time.Time, bool) {
	highest := ref
	for i := len(window) - 1; i >= 0; i-- {
		cur := window[i]
		if cur.High < ref.High || cur.Low < ref.Low {
			return time.Time{}, false
		}
		if cur.High > highest.High {
			highest = cur
		}
	}
	if highest.Time.Equal(ref.Time) {
		return time.Time{}, false
	}
	return highest.Time, true
}

// barsGrow detects a run of bars pressing toward the current bar: on an UP
// leg the last n bars never raise their low toward the present, the bar n back
// stands above the current high, and the n-1 bars before it all held lows
// above the current low. The swing is anchored at the highest bar of the run
// when it improves on the working point.
func (p *pass) barsGrow() error {
	if !p.c.Directed() {
		return nil
	}
	n := p.n
	bars := p.engine.history.LatestBars(2*n + 11)
	if len(bars) < 2*n+11 {
		return nil
	}

	if p.up() {
		top, ok := growDown(bars, n)
		if !ok {
			return nil
		}
		p.preferAnchor(top, true)
		return p.reverse(models.DirectionDown, CauseBarsGrow, time.Time{})
	}

	bottom, ok := growUp(bars, n)
	if !ok {
		return nil
	}
	p.preferAnchor(bottom, false)
	return p.reverse(models.DirectionUp, CauseBarsGrow, time.Time{})
}

// growDown returns the highest bar of the leading run. bars is most recent first.
func growDown(bars []models.Bar, n int) (models.Bar, bool) {
	cur := bars[0]
	low, high := cur.Low, cur.High
	top := cur
	for i := 1; i <= n; i++ {
		prev := bars[i]
		if cur.Low > prev.Low {
			return models.Bar{}, false
		}
		if prev.High > top.High {
			top = prev
		}
		cur = prev
	}
	if cur.High <= high {
		return models.Bar{}, false
	}
	for i := n + 1; i < 2*n; i++ {
		if bars[i].Low <= low {
			return models.Bar{}, false
		}
	}
	return top, true
}

// growUp mirrors growDown and returns the lowest bar of the leading run.
func growUp(bars []models.Bar, n int) (models.Bar, bool) {
	cur := bars[0]
	low, high := cur.Low, cur.High
	bottom := cur
	for i := 1; i <= n; i++ {
		prev := bars[i]
		if cur.High < prev.High {
			return models.Bar{}, false
		}
		if prev.Low < bottom.Low {
			bottom = prev
		}
		cur = prev
	}
	if cur.Low >= low {
		return models.Bar{}, false
	}
	for i := n + 1; i < 2*n; i++ {
		if bars[i].High >= high {
			return models.Bar{}, false
		}
	}
	return bottom, true
}

// preferAnchor moves the working point forward to candidate when it is a
// strictly more extreme bar than the current anchor.
func (p *pass) preferAnchor(candidate models.Bar, high bool) {
	c := p.c
	if c.LastWorkingPoint.IsZero() {
		c.LastWorkingPoint = candidate.Time
		return
	}
	if !candidate.Time.After(c.LastWorkingPoint) {
		return
	}
	anchor, ok := p.engine.history.BarAt(c.LastWorkingPoint)
	if !ok {
		return
	}
	if (high && candidate.High > anchor.High) || (!high && candidate.Low < anchor.Low) {
		c.LastWorkingPoint = candidate.Time
	}
}
