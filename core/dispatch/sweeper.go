package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/depannage/core/demande"
	"github.com/kilianp07/depannage/core/metrics"
	"github.com/kilianp07/depannage/core/model"
	"github.com/kilianp07/depannage/core/monitoring"
)

// Run sweeps demandes en_attente every SweepIntervalSeconds until the
// context is canceled.
func (e *Engine) Run(ctx context.Context) {
	defer monitoring.Recover()
	t := time.NewTicker(e.cfg.sweepInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.Sweep(ctx); err != nil {
				e.log.Errorf("dispatch sweep: %v", err)
			}
		}
	}
}

// Sweep re-dispatches every demande en_attente whose last search is older
// than RedispatchAfterSeconds. A demande that already used
// MaxRedispatchAttempts is cancelled by the system instead.
func (e *Engine) Sweep(ctx context.Context) error {
	pending, err := e.demandes.List(ctx, demande.Filter{Statuses: []model.DemandeStatus{model.StatusEnAttente}})
	if err != nil {
		return err
	}
	now := e.now()
	for _, d := range pending {
		e.mu.RLock()
		last, attempts := d.CreatedAt, 0
		if v, ok := e.views[d.ID]; ok {
			last, attempts = v.lastPass, v.attempts
		}
		e.mu.RUnlock()
		if now.Sub(last) < e.cfg.redispatchAfter() {
			continue
		}
		if e.cfg.MaxRedispatchAttempts > 0 && attempts >= e.cfg.MaxRedispatchAttempts {
			e.expire(ctx, d.ID)
			continue
		}
		if _, err := e.run(ctx, d.ID, metrics.TriggerSweep, true); err != nil && !errors.Is(err, model.ErrInvalidTransition) {
			e.log.Warnf("redispatch %s: %v", d.ID, err)
		}
	}
	return nil
}

// expire cancels a demande nobody took. The cancel only applies while the
// demande is still en_attente, so an accept that lands first wins.
func (e *Engine) expire(ctx context.Context, demandeID string) {
	_, err := e.demandes.Apply(ctx, demande.Command{
		DemandeID: demandeID,
		Event:     demande.EventCancel,
		Actor:     model.SystemActor,
		IfStatus:  model.StatusEnAttente,
	})
	switch {
	case err == nil:
		timeoutCancels.Inc()
		e.Forget(demandeID)
		e.log.Infof("demande %s cancelled after %d re-dispatches", demandeID, e.cfg.MaxRedispatchAttempts)
	case model.IsContention(err):
		e.log.Debugf("timeout cancel of %s lost: %v", demandeID, err)
	default:
		e.log.Errorf("timeout cancel of %s: %v", demandeID, err)
	}
}
