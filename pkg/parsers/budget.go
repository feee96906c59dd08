package parsers

import (
	"errors"
	"time"
)

var ErrBudgetExhausted = errors.New("time budget exhausted")

const DefaultCheckInterval = 1000

// Budget is the soft wall-clock allowance for one multi-metric parse.
// A nil Budget never expires.
type Budget struct {
	total         time.Duration
	reserve       time.Duration
	started       time.Time
	now           func() time.Time
	CheckInterval int
}

func NewBudget(total, reserve time.Duration, now func() time.Time) *Budget {
	if now == nil {
		now = time.Now
	}
	return &Budget{
		total:         total,
		reserve:       reserve,
		started:       now(),
		now:           now,
		CheckInterval: DefaultCheckInterval,
	}
}

func (b *Budget) Remaining() time.Duration {
	if b == nil {
		return time.Duration(1<<63 - 1)
	}
	return b.total - b.now().Sub(b.started)
}

func (b *Budget) Elapsed() time.Duration {
	if b == nil {
		return 0
	}
	return b.now().Sub(b.started)
}

// Exhausted reports whether only the reserve is left.
func (b *Budget) Exhausted() bool {
	if b == nil {
		return false
	}
	return b.Remaining() <= b.reserve
}

// StartPhase grants the next phase an equal share of what is left after
// the reserve, so time a fast phase does not use rolls forward.
func (b *Budget) StartPhase(phasesLeft int) (*Phase, error) {
	if b == nil {
		return &Phase{}, nil
	}
	if phasesLeft < 1 {
		phasesLeft = 1
	}
	usable := b.Remaining() - b.reserve
	if usable <= 0 {
		return nil, ErrBudgetExhausted
	}
	interval := b.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Phase{
		deadline: b.now().Add(usable / time.Duration(phasesLeft)),
		now:      b.now,
		interval: interval,
	}, nil
}

// Phase is a cooperative deadline. Check reads the clock once every
// interval calls.
type Phase struct {
	deadline time.Time
	now      func() time.Time
	interval int
	ticks    int
	expired  bool
}

func (p *Phase) Expired() bool {
	if p == nil || p.now == nil {
		return false
	}
	if !p.expired && !p.now().Before(p.deadline) {
		p.expired = true
	}
	return p.expired
}

func (p *Phase) Check() bool {
	if p == nil || p.now == nil {
		return false
	}
	p.ticks++
	if p.ticks%p.interval != 0 {
		return p.expired
	}
	return p.Expired()
}
