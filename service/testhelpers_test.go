package service

import (
	"sync/atomic"

	"github.com/ludo-technologies/sentinel/domain"
)

type countingTask struct {
	total     int
	count     atomic.Int32
	completed atomic.Bool
}

func (c *countingTask) Increment(n int) { c.count.Add(int32(n)) }
func (c *countingTask) Describe(string) {}
func (c *countingTask) Complete() { c.completed.Store(true) }

type countingProgress struct {
	task *countingTask
}

func (p *countingProgress) StartTask(_ string, total int) domain.TaskProgress {
	p.task = &countingTask{total: total}
	return p.task
}
func (p *countingProgress) IsInteractive() bool { return false }
func (p *countingProgress) Close() {}
