package fetch

import (
	"sync"
	"sync/atomic"
)

// completion 是只结算一次的结果槽：多阶段流水线中每个阶段都可能上报结果，
// 只有第一个信号生效，其余信号被丢弃并计数。
type completion struct {
	once      sync.Once
	done      chan struct{}
	err       error
	discarded atomic.Int32
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

// settle 记录结果；返回 false 表示已结算过，本次信号被丢弃。
func (c *completion) settle(err error) bool {
	settled := false
	c.once.Do(func() {
		c.err = err
		settled = true
		close(c.done)
	})
	if !settled {
		c.discarded.Add(1)
	}
	return settled
}

// Done 在结算后关闭。
func (c *completion) Done() <-chan struct{} {
	return c.done
}

// Err 返回首个信号携带的错误；须在 Done 关闭后调用。
func (c *completion) Err() error {
	<-c.done
	return c.err
}

// Discarded 返回被忽略的后续信号数。
func (c *completion) Discarded() int {
	return int(c.discarded.Load())
}
