package scenarios

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kilianp07/depannage/app"
	"github.com/kilianp07/depannage/core/audit"
	"github.com/kilianp07/depannage/core/demande"
	"github.com/kilianp07/depannage/core/dispatch"
	"github.com/kilianp07/depannage/core/events"
	"github.com/kilianp07/depannage/core/geo"
	"github.com/kilianp07/depannage/core/model"
	"github.com/kilianp07/depannage/infra/logger"
	"github.com/kilianp07/depannage/infra/mqtt"
)

// Options tune the service a scenario runs against. Out, when set,
// receives one line per step.
type Options struct {
	Dispatch dispatch.Config
	Geo      geo.Config
	Out      io.Writer
}

// Report summarizes a replay.
type Report struct {
	Lines         []string
	Won           int
	Lost          int
	Errors        int
	Statuses      map[string]model.DemandeStatus
	Fleet         map[string]model.Disponibilite
	Notifications map[string]int
	Transitions   int
}

// notifyPublisher delivers bus events synchronously so the replay is
// deterministic.
type notifyPublisher struct {
	n events.Notifier
}

func (p notifyPublisher) Publish(ev events.Event) {
	_ = p.n.Notify(context.Background(), ev)
}

type replay struct {
	svc    *app.Service
	refs   map[string]string
	report *Report
}

// Run replays sc on a fresh in-memory service. Rejected operations are
// recorded in the report; only an invalid fleet definition fails the run.
func Run(ctx context.Context, sc *Scenario, opts Options) (Report, error) {
	notifier := mqtt.NewMockNotifier()
	journal := audit.NewMemoryStore()
	svc, err := app.NewService(app.Components{
		Store:    demande.NewMemoryStore(),
		Journal:  journal,
		Notifier: notifier,
		Bus:      notifyPublisher{n: notifier},
		Logger:   logger.NopLogger{},
		Dispatch: opts.Dispatch,
		Geo:      opts.Geo,
	})
	if err != nil {
		return Report{}, err
	}
	rep := Report{
		Statuses:      map[string]model.DemandeStatus{},
		Fleet:         map[string]model.Disponibilite{},
		Notifications: map[string]int{},
	}
	for _, t := range sc.Technicians {
		if _, err := svc.RegisterTechnician(t.ToModel()); err != nil {
			return Report{}, fmt.Errorf("technician %s: %w", t.ID, err)
		}
	}
	r := &replay{svc: svc, refs: map[string]string{}, report: &rep}
	for i, st := range sc.Steps {
		desc, err := r.step(ctx, st)
		if err != nil {
			rep.Errors++
			desc = "error: " + err.Error()
		}
		line := fmt.Sprintf("%3d %-9s %s", i+1, st.Op, desc)
		rep.Lines = append(rep.Lines, line)
		if opts.Out != nil {
			fmt.Fprintln(opts.Out, line)
		}
	}

	for ref, id := range r.refs {
		d, err := svc.GetDemande(ctx, id)
		if err != nil {
			return rep, err
		}
		rep.Statuses[ref] = d.Status
	}
	for _, t := range svc.Technicians() {
		rep.Fleet[t.ID] = t.Disponibilite
	}
	for _, ev := range notifier.Events() {
		rep.Notifications[ev.Kind()]++
	}
	records, err := journal.Query(ctx, audit.Query{})
	if err != nil {
		return rep, err
	}
	rep.Transitions = len(records)
	return rep, nil
}

func (r *replay) id(ref string) string {
	if id, ok := r.refs[ref]; ok {
		return id
	}
	return ref
}

// ref maps a generated id back to its scenario reference.
func (r *replay) ref(id string) string {
	for k, v := range r.refs {
		if v == id {
			return k
		}
	}
	return id
}

func (r *replay) step(ctx context.Context, st Step) (string, error) {
	id := r.id(st.Demande)
	switch st.Op {
	case "create":
		d, err := r.svc.CreateDemande(ctx, model.NewDemande{
			ClientID:    st.Client,
			Pickup:      model.Point{Lat: st.Lat, Lng: st.Lng},
			VehicleType: st.Vehicle,
			TypePanne:   st.Panne,
		})
		if err != nil {
			return "", err
		}
		r.refs[st.Demande] = d.ID
		v, err := r.svc.GetDemande(ctx, d.ID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s candidates=%d", st.Demande, v.CandidateCount), nil
	case "offers":
		offers, err := r.svc.NearbyDemandes(st.Technician)
		if err != nil {
			return "", err
		}
		out := st.Technician
		for _, o := range offers {
			out += fmt.Sprintf(" %s@%.1fkm", r.ref(o.DemandeID), o.DistanceKm)
		}
		return out, nil
	case "accept":
		res, err := r.svc.Accept(ctx, id, st.Technician)
		if err != nil {
			return "", err
		}
		if res.Won {
			r.report.Won++
			return fmt.Sprintf("%s won by %s", st.Demande, st.Technician), nil
		}
		r.report.Lost++
		return fmt.Sprintf("%s lost by %s (%s)", st.Demande, st.Technician, res.Reason), nil
	case "refuse":
		if err := r.svc.Refuse(ctx, id, st.Technician); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s refused by %s", st.Demande, st.Technician), nil
	case "start":
		return r.outcome(r.svc.Start(ctx, id, st.Technician))
	case "complete":
		return r.outcome(r.svc.Complete(ctx, id, st.Technician, st.Cost))
	case "cancel":
		actor := model.Actor{Kind: st.Actor}
		switch st.Actor {
		case model.ActorClient:
			actor.ID = st.Client
		case model.ActorTechnician:
			actor.ID = st.Technician
		}
		return r.outcome(r.svc.Cancel(ctx, id, actor, st.IfStatus))
	case "position":
		if err := r.svc.UpdatePosition(st.Technician, st.Lat, st.Lng); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s at (%.4f, %.4f)", st.Technician, st.Lat, st.Lng), nil
	case "status":
		if err := r.svc.SetTechnicianStatus(st.Technician, st.Status); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s", st.Technician, st.Status), nil
	case "sweep":
		if err := r.svc.Engine().Sweep(ctx); err != nil {
			return "", err
		}
		stats := r.svc.DispatchStats()
		return fmt.Sprintf("searching=%d without_candidates=%d", stats.Searching, stats.WithoutCandidates), nil
	default:
		return "", fmt.Errorf("unknown op %q", st.Op)
	}
}

func (r *replay) outcome(d model.Demande, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s", r.ref(d.ID), d.Status), nil
}

// Check compares a report with the expectations of a scenario. Counters
// are always compared; statuses and fleet only for the listed keys.
func Check(rep Report, exp *Expected) error {
	if exp == nil {
		return nil
	}
	var errs []error
	if rep.Won != exp.Won {
		errs = append(errs, fmt.Errorf("expected %d won accepts, got %d", exp.Won, rep.Won))
	}
	if rep.Lost != exp.Lost {
		errs = append(errs, fmt.Errorf("expected %d lost accepts, got %d", exp.Lost, rep.Lost))
	}
	if rep.Errors != exp.Errors {
		errs = append(errs, fmt.Errorf("expected %d rejected steps, got %d", exp.Errors, rep.Errors))
	}
	for ref, want := range exp.Statuses {
		if got := rep.Statuses[ref]; got != want {
			errs = append(errs, fmt.Errorf("demande %s: expected %s, got %q", ref, want, got))
		}
	}
	for id, want := range exp.Fleet {
		if got := rep.Fleet[id]; got != want {
			errs = append(errs, fmt.Errorf("technician %s: expected %s, got %q", id, want, got))
		}
	}
	return errors.Join(errs...)
}
