package ftp

import (
	"time"
)

// startKeepAlive starts a goroutine that sends NOOP commands
// if the connection has been idle for the configured idleTimeout.
func (c *Client) startKeepAlive() {
	if c.idleTimeout <= 0 {
		return
	}

	c.quitChan = make(chan struct{})

	// Tick at half the idle timeout so an idle period is noticed in time
	ticker := time.NewTicker(c.idleTimeout / 2)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.keepAlive()
			case <-c.quitChan:
				return
			case <-c.Done():
				return
			}
		}
	}()
}

// keepAlive sends NOOP when the control connection has been idle long
// enough and no operation is running.
func (c *Client) keepAlive() {
	c.mu.Lock()
	idle := time.Since(c.lastCommand)
	pending := c.queue.len()
	c.mu.Unlock()

	if pending > 0 || idle < c.idleTimeout {
		return
	}

	// Skip the tick rather than wait behind a running operation
	select {
	case c.seq <- struct{}{}:
	default:
		return
	}
	defer func() { <-c.seq }()

	c.logger.Debug("sending keep-alive NOOP", "idle", idle)
	if _, err := c.exec("NOOP", "", is2xx); err != nil {
		c.logger.Debug("keep-alive failed", "error", err)
	}
}

func (c *Client) stopKeepAlive() {
	if c.quitChan == nil {
		return
	}
	c.quitOnce.Do(func() {
		close(c.quitChan)
	})
}
