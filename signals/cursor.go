package signals

// Cursor walks a signal's samples forever, wrapping back to the first
// sample after the last.
type Cursor struct {
	samples  []Sample
	position int
	passes   int
}

func NewCursor(sig Signal) *Cursor {
	return &Cursor{samples: sig.Samples}
}

func (c *Cursor) Current() Sample {
	if c.position < len(c.samples) {
		return c.samples[c.position]
	}

	var s Sample
	return s
}

// Advance moves to the next sample and reports whether it wrapped
func (c *Cursor) Advance() bool {
	c.position = c.nextPosition()
	if c.position == 0 {
		c.passes++
		return true
	}
	return false
}

// Passes is how many times the whole sequence has been walked
func (c *Cursor) Passes() int {
	return c.passes
}

func (c *Cursor) Length() int {
	return len(c.samples)
}

func (c *Cursor) nextPosition() int {
	p := c.position + 1
	if p >= len(c.samples) {
		p = 0
	}
	return p
}
