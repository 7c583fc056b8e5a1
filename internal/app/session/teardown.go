package session

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
)

// teardown runs once, on the loop goroutine, after the terminal transition.
// Every step runs even if an earlier one fails or panics.
func (c *Controller) teardown() {
	endedAt := time.Now().UTC()
	c.stopTimer()
	bg := context.WithoutCancel(c.ctx)
	// unblocks a media source still opening devices
	c.cancel()

	if c.sub != nil {
		c.step("bye", func() error {
			ctx, cancel := context.WithTimeout(bg, c.recordTimeout)
			defer cancel()
			msg := core.NewSignal(c.sc.Self.ID, core.Broadcast, core.Bye{Reason: string(c.outcome)})
			return c.deps.Channel.Publish(ctx, c.sc.Room, msg)
		})
	}
	if c.peer != nil {
		c.step("close peer", c.peer.Close)
	}
	c.step("release media", func() error {
		c.mediaMu.Lock()
		c.tornDown = true
		c.mediaMu.Unlock()
		c.deps.Media.Release()
		return nil
	})
	if c.sub != nil {
		c.step("unsubscribe", func() error { return c.deps.Channel.Unsubscribe(c.sub) })
	}

	rec := domain.NewCallRecord(c.sc, c.startedAt, c.connectedAt, endedAt, c.outcome, c.reason)
	c.deps.Metrics.Outcome(rec)
	if c.deps.Records != nil {
		c.step("write record", func() error {
			ctx, cancel := context.WithTimeout(bg, c.recordTimeout)
			defer cancel()
			return c.deps.Records.WriteCallRecord(ctx, rec)
		})
	}
	c.log.Info().
		Str("outcome", string(rec.Outcome)).
		Int64("duration_ms", rec.DurationMs).
		Str("reason", rec.Reason).
		Msg("session finished")
}

func (c *Controller) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("step", name).Err(fmt.Errorf("panic: %v", r)).Msg("teardown step panicked")
		}
	}()
	if err := fn(); err != nil {
		c.log.Warn().Err(err).Str("step", name).Msg("teardown step failed")
	}
}
