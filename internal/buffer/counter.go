package buffer

// Counter counts additions modulo a fixed limit. Inc reports true exactly
// when the count reaches the limit, after which it starts again from 0.
type Counter struct {
	limit int
	count int
}

// NewCounter returns a counter for limit; limit must be positive.
func NewCounter(limit int) (*Counter, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	return &Counter{limit: limit}, nil
}

// Inc adds one and reports whether the limit was reached.
func (c *Counter) Inc() bool {
	c.count++
	if c.count < c.limit {
		return false
	}
	c.count = 0
	return true
}

// Reset sets the count back to 0.
func (c *Counter) Reset() { c.count = 0 }

// Count returns the additions since the last overflow.
func (c *Counter) Count() int { return c.count }

// Limit returns the configured limit.
func (c *Counter) Limit() int { return c.limit }
