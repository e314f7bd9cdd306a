package swing

import (
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
)

// reverse confirms the end of the current leg at the last working point and
// starts a leg in direction to. The new leg is anchored at the current bar, or
// at override when set.
func (p *pass) reverse(to models.Direction, cause Cause, override time.Time) error {
	c, b, e := p.c, p.bar, p.engine
	if c.LastWorkingPoint.IsZero() {
		c.LastWorkingPoint = b.Time
	}

	anchor, ok := e.history.BarAt(c.LastWorkingPoint)
	if !ok {
		return e.fail(ErrInconsistentState, b, "anchor bar %s is outside the history window (%d bars)",
			c.LastWorkingPoint.Format(time.RFC3339), e.history.Len())
	}

	price := anchor.High
	if to == models.DirectionUp {
		price = anchor.Low
	}
	if e.cfg.Variant.PriceSource == PriceWorkingPrice && c.LastWorkingPrice.Valid {
		price = c.LastWorkingPrice.Value
	}

	sw := models.SwingPoint{
		Time:        c.LastWorkingPoint,
		Price:       price,
		Direction:   to.Opposite(),
		Timeframe:   e.key.Timeframe,
		ConfirmedAt: b.Time,
	}

	emit := true
	if e.cfg.Variant.DuplicateGuard {
		if last := e.swings.LatestSwings(1); len(last) == 1 && last[0].Equal(sw) {
			emit = false
			logger.Debug("Duplicate swing suppressed",
				logger.String("series", e.key.String()),
				logger.String("cause", string(cause)),
				logger.Time("swing_time", sw.Time),
			)
		}
	}

	c.WaitingReverseCount = 0
	c.LastWorkingPoint = b.Time
	if !override.IsZero() {
		c.LastWorkingPoint = override
	}
	p.setDirection(to)
	c.CurrentHigh, c.CurrentLow = price, price
	c.GlobalHigh, c.GlobalLow = Some(price), Some(price)
	if to == models.DirectionDown {
		c.LastUpSwing = Some(price)
	} else {
		c.LastDownSwing = Some(price)
	}

	p.reversed = true
	p.cause = cause
	if emit {
		p.swing = &sw
	}
	return nil
}
