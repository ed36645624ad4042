// Package ws relays deployment feeds to browser connections over
// Server-Sent Events or websockets.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/service/deploy"
)

// Sink is a push connection to one observer.
type Sink interface {
	Send(payload []byte) error
	Heartbeat() error
	Close()
}

// Source exposes active runs and persisted deployments.
type Source interface {
	Active(deploymentID string) (*deploy.Run, bool)
	Get(ctx context.Context, deploymentID, requesterID string) (*domain.Deployment, error)
}

// Gateway attaches observers to deployment feeds.
type Gateway struct {
	source    Source
	heartbeat time.Duration
	log       *slog.Logger
}

// NewGateway constructs a Gateway. A zero heartbeat disables keep-alive frames.
func NewGateway(source Source, heartbeat time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{source: source, heartbeat: heartbeat, log: logger.With("component", "gateway")}
}

// Attach streams a deployment to sink. An active run owned by requesterID is
// relayed live; a sealed deployment is replayed from the store. Unsealed
// deployments without a live run, and foreign or unknown ids, yield
// deploy.ErrNotFound.
func (g *Gateway) Attach(ctx context.Context, deploymentID, requesterID string, sink Sink) error {
	if run, ok := g.source.Active(deploymentID); ok {
		if run.OwnerID != requesterID {
			return fmt.Errorf("deployment %s: %w", deploymentID, deploy.ErrNotFound)
		}
		terminal, err := g.relay(ctx, run.Subscribe(), sink)
		if err != nil || terminal || ctx.Err() != nil {
			return err
		}
		// The run finished between lookup and subscribe; fall through to replay.
	}

	d, err := g.source.Get(ctx, deploymentID, requesterID)
	if err != nil {
		return err
	}
	if !d.Sealed() {
		return fmt.Errorf("deployment %s is not running: %w", deploymentID, deploy.ErrNotFound)
	}
	return g.Replay(d, sink)
}

// Relay forwards sub to sink until the feed closes or ctx is done. The
// subscription is always closed on return.
func (g *Gateway) Relay(ctx context.Context, sub *deploy.Subscription, sink Sink) error {
	_, err := g.relay(ctx, sub, sink)
	return err
}

// Replay sends persisted lines followed by the sealed status.
func (g *Gateway) Replay(d *domain.Deployment, sink Sink) error {
	for _, line := range d.Lines() {
		if err := send(sink, deploy.Event{Log: line}); err != nil {
			return err
		}
	}
	return send(sink, deploy.Event{Status: d.Status})
}

func (g *Gateway) relay(ctx context.Context, sub *deploy.Subscription, sink Sink) (bool, error) {
	defer sub.Close()

	var tick <-chan time.Time
	if g.heartbeat > 0 {
		ticker := time.NewTicker(g.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	terminal := false
	for {
		select {
		case <-ctx.Done():
			g.log.Debug("observer disconnected")
			return terminal, nil
		case ev, ok := <-sub.Events():
			if !ok {
				return terminal, nil
			}
			if err := send(sink, ev); err != nil {
				return terminal, err
			}
			if ev.Terminal() {
				terminal = true
			}
		case <-tick:
			if err := sink.Heartbeat(); err != nil {
				return terminal, err
			}
		}
	}
}

func send(sink Sink, ev deploy.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return sink.Send(payload)
}
