package gitsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DylanDDeng/notely-sub000/internal/syncconfig"
)

// scheduler owns at most one repeating auto-sync task.
type scheduler struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	every  time.Duration
}

// replace cancels the current task, if any, and installs fn to run every d.
func (s *scheduler) replace(parent context.Context, d time.Duration, fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	ctx, cancel := context.WithCancel(parent)
	s.cancel, s.every = cancel, d

	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if ctx.Err() == nil {
					// A started run finishes even if the timer is replaced.
					fn(context.WithoutCancel(ctx))
				}
			}
		}
	}()
}

// stop cancels the current task. It does not wait, so the task itself may
// call it.
func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel, s.every = nil, 0
}

func (s *scheduler) interval() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.every, s.cancel != nil
}

// Start enables scheduling for the lifetime of ctx and installs the timer
// if the configuration asks for auto-sync.
func (e *Engine) Start(ctx context.Context) {
	e.baseMu.Lock()
	e.baseCtx = ctx
	e.baseMu.Unlock()
	e.reschedule()
}

// Stop removes the timer. A run already in progress is not interrupted.
func (e *Engine) Stop() {
	e.baseMu.Lock()
	e.baseCtx = nil
	e.baseMu.Unlock()
	e.sched.stop()
}

// Scheduled reports whether an auto-sync timer is installed and its period.
func (e *Engine) Scheduled() (time.Duration, bool) {
	return e.sched.interval()
}

// reschedule reinstalls or clears the timer from the current configuration.
func (e *Engine) reschedule() {
	e.baseMu.Lock()
	base := e.baseCtx
	e.baseMu.Unlock()

	state := e.store.Get()
	if base == nil || !wantsTimer(state) {
		e.sched.stop()
		return
	}
	d := time.Duration(state.IntervalMinutes) * e.intervalUnit
	e.sched.replace(base, d, func(ctx context.Context) {
		e.Run(ctx, ReasonAuto)
	})
	e.logger.Debug("sync: timer installed", slog.Duration("every", d))
}

func wantsTimer(s syncconfig.State) bool {
	return s.Enabled && s.AutoSyncEnabled && s.IntervalMinutes > 0
}
