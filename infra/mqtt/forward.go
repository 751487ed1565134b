package mqtt

import (
	"context"

	"github.com/kilianp07/depannage/core/events"
	"github.com/kilianp07/depannage/core/logger"
	"github.com/kilianp07/depannage/core/monitoring"
)

// Forward relays bus events to n until ctx is done or sub is closed.
// Acceptances are skipped: the arbiter notifies them synchronously.
func Forward(ctx context.Context, sub <-chan events.Event, n events.Notifier, log logger.Logger) {
	log = logger.OrNop(log)
	defer monitoring.Recover()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if _, accepted := ev.(events.DemandeAccepted); accepted {
				continue
			}
			if err := n.Notify(ctx, ev); err != nil {
				log.Warnf("forward %s: %v", ev.Kind(), err)
			}
		}
	}
}
