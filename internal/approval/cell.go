package approval

import (
	"sync"
	"time"
)

// completionCell is a single-assignment slot with an expiry timer. The first
// resolve wins and stops the timer; the timer's expire callback is itself just
// another writer racing for the slot.
type completionCell struct {
	once  sync.Once
	done  chan struct{}
	value Response
	timer *time.Timer
}

func newCompletionCell() *completionCell {
	return &completionCell{done: make(chan struct{})}
}

// arm starts the expiry timer. It must be called at most once.
func (c *completionCell) arm(timeout time.Duration, expire func()) {
	c.timer = time.AfterFunc(timeout, expire)
}

func (c *completionCell) resolve(r Response) bool {
	won := false
	c.once.Do(func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.value = r
		won = true
		close(c.done)
	})
	return won
}

func (c *completionCell) Done() <-chan struct{} {
	return c.done
}

func (c *completionCell) wait() Response {
	<-c.done
	return c.value
}
