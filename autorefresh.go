package softfuse

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/logging"
)

// AutoRefresher provides controls for periodic catalog refreshes.
type AutoRefresher interface {
	// AutoRefreshOn begins periodic refreshes if configured
	AutoRefreshOn() error

	// AutoRefreshOff stops periodic refreshes
	AutoRefreshOff() error
}

var _ AutoRefresher = (*client)(nil)

// AutoRefreshOn begins periodic refreshes at the configured interval.
func (c *client) AutoRefreshOn() error {
	if c.options.refreshInterval <= 0 {
		return &errors.ValidationError{
			Field:   "refreshInterval",
			Value:   c.options.refreshInterval,
			Message: "refresh interval must be positive",
		}
	}

	// Stop any running loop first so repeated calls don't leak tickers.
	if err := c.AutoRefreshOff(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopCh = make(chan struct{})
	c.refreshTicker = time.NewTicker(c.options.refreshInterval)

	ctx, cancel := context.WithCancel(context.Background())
	c.refreshCancel = cancel

	go c.refreshLoop(ctx, c.refreshTicker, c.stopCh)
	return nil
}

func (c *client) refreshLoop(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-ticker.C:
			runCtx, runCancel := context.WithTimeout(ctx, refreshRunTimeout)
			result, err := c.Refresh(runCtx)
			runCancel()

			if err != nil {
				if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
					return
				}
				logging.Error().Err(err).Msg("Auto-refresh failed")
				continue
			}
			logging.Debug().
				Int("fetched", result.Fetched).
				Int("failed", result.Failed).
				Msg("Auto-refresh completed")
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
	}
}

// AutoRefreshOff stops periodic refreshes. Calling it when none are
// running is a no-op.
func (c *client) AutoRefreshOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refreshTicker != nil {
		c.refreshTicker.Stop()
		c.refreshTicker = nil
	}
	if c.refreshCancel != nil {
		c.refreshCancel()
		c.refreshCancel = nil
	}
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	return nil
}
