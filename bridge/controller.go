// Package bridge wires the USRP and Zello endpoints together and owns
// the process-lifetime task set that keeps audio flowing in both
// directions for as long as the process runs.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/mattmelling/asl-zello-bridge/codec"
	"github.com/mattmelling/asl-zello-bridge/ptt"
	"github.com/mattmelling/asl-zello-bridge/queue"
	"github.com/mattmelling/asl-zello-bridge/shared"
	"github.com/mattmelling/asl-zello-bridge/token"
	"github.com/mattmelling/asl-zello-bridge/usrp"
	"github.com/mattmelling/asl-zello-bridge/zello"
)

// tokenMonitorInterval paces how often the token monitor task checks
// whether the current auth token needs refreshing. It is kept well
// under the smallest gap a token's remaining lifetime can cross the
// refresh threshold at, so a newly-issued short-lived token still gets
// refreshed within a second or two of becoming eligible.
const tokenMonitorInterval = 1 * time.Second

// Controller owns the two byte queues, the two PTT events, the USRP
// endpoint and the Zello session, and runs every background task for
// the life of the process. It exposes no public API beyond Run and
// Shutdown.
type Controller struct {
	logger shared.LoggerAdapter

	usrpToZello *queue.ByteQueue
	zelloToUsrp *queue.ByteQueue
	usrpPTT     *ptt.Event
	zelloPTT    *ptt.Event

	endpoint *usrp.Endpoint
	session  *zello.Session

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a Controller: the queues and PTT events, the USRP
// endpoint (which binds its UDP socket immediately) and the Zello
// session.
func New(logger shared.LoggerAdapter, usrpCfg usrp.Config, zelloCfg zello.Config, tokenSvc *token.Service, c *codec.Codec) (*Controller, error) {
	usrpToZello := queue.New()
	zelloToUsrp := queue.New()
	usrpPTT := ptt.New()
	zelloPTT := ptt.New()

	endpoint, err := usrp.New(usrpCfg, logger, usrpToZello, zelloToUsrp, usrpPTT, zelloPTT)
	if err != nil {
		return nil, err
	}
	session := zello.New(zelloCfg, logger, tokenSvc, c, usrpToZello, zelloToUsrp, usrpPTT, zelloPTT)

	return &Controller{
		logger:      logger,
		usrpToZello: usrpToZello,
		zelloToUsrp: zelloToUsrp,
		usrpPTT:     usrpPTT,
		zelloPTT:    zelloPTT,
		endpoint:    endpoint,
		session:     session,
	}, nil
}

// Run starts the USRP RX/TX loops, the Zello session, and the token
// monitor, and blocks until ctx is cancelled or a task fails
// unrecoverably. It returns the first non-cancellation error
// encountered.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
	defer cancel()

	errCh := make(chan error, 4)

	c.spawn(func() error { return c.endpoint.RunRX(ctx) }, errCh)
	c.spawn(func() error { return c.endpoint.RunTX(ctx) }, errCh)
	c.spawn(func() error { c.session.RunWithReconnect(ctx); return nil }, errCh)
	c.spawn(func() error { c.runTokenMonitor(ctx); return nil }, errCh)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	c.wg.Wait()
	c.closeResources()

	if runErr != nil {
		return runErr
	}
	if err := ctx.Err(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// Shutdown cancels every running task. Callers should follow it by
// waiting on Run to return.
func (c *Controller) Shutdown() {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) spawn(task func() error, errCh chan<- error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := task(); err != nil && err != context.Canceled {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
}

// runTokenMonitor polls the session's auth token expiry and triggers
// reauth ahead of it expiring.
func (c *Controller) runTokenMonitor(ctx context.Context) {
	ticker := time.NewTicker(tokenMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.session.MaybeRefreshAuth(ctx)
		}
	}
}

// closeResources releases the UDP socket and closes the queues so any
// task still blocked on a read wakes up. The WebSocket itself is closed
// by Session.Run returning as its context is cancelled.
func (c *Controller) closeResources() {
	if err := c.endpoint.Close(); err != nil {
		c.logger.Error("closing USRP socket", err)
	}
	c.usrpToZello.Close()
	c.zelloToUsrp.Close()
}
