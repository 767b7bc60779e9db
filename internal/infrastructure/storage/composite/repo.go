package composite

import (
	"context"

	"xoracle/internal/application/port"
	"xoracle/internal/domain/model"
)

// Notifier 将事件分发给多个下游，返回第一个错误但不中断后续分发
type Notifier struct {
	notifiers []port.Notifier
}

func New(notifiers ...port.Notifier) *Notifier {
	// nil notifiers are allowed; filter in constructor for safety
	out := make([]port.Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return &Notifier{notifiers: out}
}

func (c *Notifier) Len() int { return len(c.notifiers) }

func (c *Notifier) Notify(ctx context.Context, ev model.Event) error {
	var firstErr error
	for _, n := range c.notifiers {
		if err := n.Notify(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.Notifier = (*Notifier)(nil)
