package relay

import (
	"fmt"
	"sync/atomic"
)

// connStats tracks total and currently-live socket counts for one channel,
// purely for logging -- it does not gate any routing decision.
type connStats struct {
	total int32
	open  int32
}

func (c *connStats) connected() int32 {
	atomic.AddInt32(&c.total, 1)
	return atomic.AddInt32(&c.open, 1)
}

func (c *connStats) disconnected() {
	atomic.AddInt32(&c.open, -1)
}

func (c *connStats) String() string {
	return fmt.Sprintf("[%d/%d]", atomic.LoadInt32(&c.open), atomic.LoadInt32(&c.total))
}
