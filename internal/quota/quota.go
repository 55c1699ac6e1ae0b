// Package quota limits how many appointments an actor may own in a context.
package quota

import (
	"context"
	"fmt"

	"calendar-service/internal/domain"
)

// Counter counts the plain appointments and series an actor created.
type Counter interface {
	CountByCreator(ctx context.Context, contextID, userID int64) (int, error)
}

// Checker implements calendar.Quota. A Max of 0 disables the check.
type Checker struct {
	counter Counter
	max     int
}

func NewChecker(counter Counter, limit int) *Checker {
	return &Checker{counter: counter, max: limit}
}

func (c *Checker) CheckAmountQuota(ctx context.Context, contextID, actor int64) error {
	if c.max <= 0 {
		return nil
	}
	n, err := c.counter.CountByCreator(ctx, contextID, actor)
	if err != nil {
		return domain.Persistence("count appointments", err)
	}
	if n >= c.max {
		return domain.QuotaExceeded(fmt.Sprintf("limit of %d appointments reached", c.max))
	}
	return nil
}
