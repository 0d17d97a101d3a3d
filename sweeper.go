package tokenkeep

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// sweeper drives periodic cleanup independent of request traffic. A failed or
// panicking pass is reported through onResult and retried on the next tick;
// it never crashes the process.
type sweeper struct {
	interval time.Duration
	sweep    func(ctx context.Context) (int, error)
	onResult func(removed int, err error)

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newSweeper(
	interval time.Duration,
	sweep func(ctx context.Context) (int, error),
	onResult func(removed int, err error),
) *sweeper {
	if interval <= 0 || sweep == nil {
		return nil
	}
	if onResult == nil {
		onResult = func(int, error) {}
	}

	s := &sweeper{
		interval: interval,
		sweep:    sweep,
		onResult: onResult,
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := s.safeSweep()
			s.onResult(removed, err)
		case <-s.done:
			return
		}
	}
}

func (s *sweeper) safeSweep() (removed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup sweep panic: %v", r)
		}
	}()
	return s.sweep(context.Background())
}

func (s *sweeper) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}
