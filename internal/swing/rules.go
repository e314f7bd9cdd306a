package swing

import (
	"math"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

// lastSwingLevels reverses as soon as the bar breaks the level of the last
// opposite swing while failing to extend the current leg.
func (p *pass) lastSwingLevels() error {
	c, b := p.c, p.bar
	if !c.LastUpSwing.Valid || !c.LastDownSwing.Valid {
		return nil
	}

	switch {
	case p.up() && b.Low < c.LastDownSwing.Value && b.High < c.LastUpSwing.Value:
		if hi, ok := p.engine.history.HighestBar(p.anchorFrom(), b.Time); ok {
			c.LastWorkingPoint = hi.Time
			c.LastWorkingPrice = Some(hi.High)
		}
		if err := p.reverse(models.DirectionDown, CauseLastSwingLevel, time.Time{}); err != nil {
			return err
		}
		c.CurrentLow = b.Low

	case p.down() && b.High > c.LastUpSwing.Value && b.Low > c.LastDownSwing.Value:
		if lo, ok := p.engine.history.LowestBar(p.anchorFrom(), b.Time); ok {
			c.LastWorkingPoint = lo.Time
			c.LastWorkingPrice = Some(lo.Low)
		}
		if err := p.reverse(models.DirectionUp, CauseLastSwingLevel, time.Time{}); err != nil {
			return err
		}
		c.CurrentHigh = b.High
	}
	return nil
}

// anchorFrom is the start of the anchor correction range.
func (p *pass) anchorFrom() time.Time {
	if p.c.LastWorkingPoint.IsZero() {
		return p.bar.Time
	}
	return p.c.LastWorkingPoint
}

// extremes runs the mutually exclusive extremum rules: dual update, global
// breakout, local-high-only and local-low-only.
func (p *pass) extremes() error {
	c, b := p.c, p.bar
	higher := b.High > c.LocalHigh
	lower := b.Low < c.LocalLow

	switch {
	case higher && lower && c.Directed():
		p.dualExtremum()
		return nil

	case c.GlobalHigh.Less(b.High) && p.down() && !(c.CurrentLow > b.Low):
		if err := p.reverse(models.DirectionUp, CauseGlobalHigh, time.Time{}); err != nil {
			return err
		}
		c.CurrentHigh = b.High
		return nil

	case c.GlobalLow.Greater(b.Low) && p.up() && !(c.CurrentHigh < b.High):
		if err := p.reverse(models.DirectionDown, CauseGlobalLow, time.Time{}); err != nil {
			return err
		}
		c.CurrentLow = b.Low
		return nil

	case higher && !lower:
		return p.localHigh()

	case !higher && lower:
		return p.localLow()
	}
	return nil
}

// dualExtremum handles a bar that breaks both the previous high and low.
func (p *pass) dualExtremum() {
	c, b := p.c, p.bar
	up, down := p.up(), p.down()
	newHigh := up && c.CurrentHigh < b.High
	newLow := down && c.CurrentLow > b.Low

	if newHigh || newLow {
		c.LastWorkingPoint = b.Time
	}

	// a fresh extreme counts unless the bar is an opposite-coloured candle
	// that also broke the opposite global extreme
	switch {
	case newHigh:
		if !(c.GlobalLow.Greater(b.Low) && b.Bearish()) {
			if !c.LastWorkingPrice.Valid || b.High > c.LastWorkingPrice.Value {
				c.LastWorkingPoint = b.Time
				c.LastWorkingPrice = Some(b.High)
			}
			c.CurrentHigh = b.High
		}
	case newLow:
		if !(c.GlobalHigh.Less(b.High) && b.Bullish()) {
			if !c.LastWorkingPrice.Valid || b.Low < c.LastWorkingPrice.Value {
				c.LastWorkingPoint = b.Time
				c.LastWorkingPrice = Some(b.Low)
			}
			c.CurrentLow = b.Low
		}
	}

	c.WaitingReverseCount = p.n + 1

	if c.WaitingReverseCount >= p.n &&
		((up && !c.GlobalHigh.Greater(b.High)) || (down && !c.GlobalLow.Less(b.Low))) {
		p.setWorkingPrice()
		c.LastWorkingPoint = b.Time
	}

	switch {
	case up && b.Bearish() && c.CurrentHigh < b.High:
		p.setWorkingPrice()
		c.LastWorkingPoint = b.Time
		c.CurrentHigh = b.High
	case down && b.Bullish() && c.CurrentLow > b.Low:
		p.setWorkingPrice()
		c.LastWorkingPoint = b.Time
		c.CurrentLow = b.Low
	}

	c.CurrentHigh = math.Max(c.CurrentHigh, b.High)
	c.CurrentLow = math.Min(c.CurrentLow, b.Low)
}

func (p *pass) localHigh() error {
	c, b := p.c, p.bar
	switch {
	case p.up():
		if b.High > c.CurrentHigh {
			c.WaitingReverseCount = 0
			p.setWorkingPrice()
			c.LastWorkingPoint = b.Time
			c.CurrentHigh = b.High
		}
	case p.down():
		c.WaitingReverseCount++
		if c.WaitingReverseCount >= p.n {
			return p.reverse(models.DirectionUp, CauseWaitingBars, time.Time{})
		}
		if p.fastMoving(models.DirectionUp) {
			return p.reverse(models.DirectionUp, CauseFastMoving, time.Time{})
		}
	default:
		p.setDirection(models.DirectionUp)
	}
	return nil
}

func (p *pass) localLow() error {
	c, b := p.c, p.bar
	switch {
	case p.down():
		if b.Low < c.CurrentLow {
			c.WaitingReverseCount = 0
			p.setWorkingPrice()
			c.LastWorkingPoint = b.Time
			c.CurrentLow = b.Low
		}
	case p.up():
		c.WaitingReverseCount++
		if c.WaitingReverseCount >= p.n {
			return p.reverse(models.DirectionDown, CauseWaitingBars, time.Time{})
		}
		if p.fastMoving(models.DirectionDown) {
			return p.reverse(models.DirectionDown, CauseFastMoving, time.Time{})
		}
	default:
		p.setDirection(models.DirectionDown)
	}
	return nil
}

// fastMoving confirms a reversal one bar early when the retracement already
// covers half of the previous swing distance and the bar returns close to the
// swing before the latest one.
func (p *pass) fastMoving(to models.Direction) bool {
	c, b := p.c, p.bar
	if !c.LastWorkingPrice.Valid || c.WaitingReverseCount < p.n-1 {
		return false
	}
	wp := c.LastWorkingPrice.Value

	if to == models.DirectionUp {
		if !c.LastDownSwing.Valid || (c.LastDownSwing.Value-wp)*0.5 > b.High-wp {
			return false
		}
	} else {
		if !c.LastUpSwing.Valid || (wp-c.LastUpSwing.Value)*0.5 > wp-b.Low {
			return false
		}
	}

	moving, err := p.shift(c.LastWorkingPoint)
	if err != nil || moving <= 1 {
		return false
	}
	latest := p.engine.swings.LatestSwings(2)
	if len(latest) < 2 {
		return false
	}
	size := math.Abs(latest[0].Price - wp)
	diff := math.Abs(b.Low - latest[1].Price)
	return size > 0 && diff/size < 0.2
}

// barsCount confirms a reversal when the bar is the single extreme of the last
// reverse-bars window on the side opposite to the current leg.
func (p *pass) barsCount() error {
	c, b := p.c, p.bar
	switch {
	case p.down() && b.High > c.LocalHigh:
		ok, err := p.windowExtreme(func(from, to time.Time) (models.Bar, bool) {
			return p.engine.history.HighestBar(from, to)
		}, func(from, to time.Time) (models.Bar, bool) {
			return p.engine.history.LowestBar(from, to)
		})
		if err != nil || !ok {
			return nil
		}
		return p.reverse(models.DirectionUp, CauseBarsCount, time.Time{})

	case p.up() && b.Low < c.LocalLow:
		ok, err := p.windowExtreme(func(from, to time.Time) (models.Bar, bool) {
			return p.engine.history.LowestBar(from, to)
		}, func(from, to time.Time) (models.Bar, bool) {
			return p.engine.history.HighestBar(from, to)
		})
		if err != nil || !ok {
			return nil
		}
		return p.reverse(models.DirectionDown, CauseBarsCount, time.Time{})
	}
	return nil
}

type rangeQuery func(from, to time.Time) (models.Bar, bool)

// windowExtreme reports whether, over the bars from offset n to the current
// bar, the current bar is the extreme found by same and not the one found by
// opposite.
func (p *pass) windowExtreme(same, opposite rangeQuery) (bool, error) {
	ref, ok := p.engine.history.BarByOffset(p.n)
	if !ok {
		return false, ErrInsufficientHistory
	}
	hit, ok := same(ref.Time, p.bar.Time)
	if !ok || !hit.Time.Equal(p.bar.Time) {
		return false, nil
	}
	other, ok := opposite(ref.Time, p.bar.Time)
	if !ok {
		return false, ErrInsufficientHistory
	}
	return !other.Time.Equal(p.bar.Time), nil
}

// shift returns the offset of the bar at t from the latest bar.
func (p *pass) shift(t time.Time) (int, error) {
	h := p.engine.history
	if _, ok := h.BarAt(t); !ok {
		return 0, ErrInsufficientHistory
	}
	return h.CountBetween(t, p.bar.Time) - 1, nil
}

// setWorkingPrice moves the working price to the bar's extreme on the side of
// the current leg when it improves on it.
func (p *pass) setWorkingPrice() {
	c, b := p.c, p.bar
	switch {
	case !c.LastWorkingPrice.Valid:
		if p.up() {
			c.LastWorkingPrice = Some(b.High)
		} else {
			c.LastWorkingPrice = Some(b.Low)
		}
	case p.up() && b.High > c.LastWorkingPrice.Value:
		c.LastWorkingPrice = Some(b.High)
	case p.down() && b.Low < c.LastWorkingPrice.Value:
		c.LastWorkingPrice = Some(b.Low)
	}
}
