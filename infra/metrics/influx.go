package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/depannage/core/metrics"
	"github.com/kilianp07/depannage/core/model"
	"github.com/kilianp07/depannage/infra/logger"
)

const writeTimeout = 5 * time.Second

// InfluxSink writes dispatch activity to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: writeTimeout}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDispatchPass writes one matching pass.
func (s *InfluxSink) RecordDispatchPass(ev coremetrics.DispatchPassEvent) error {
	p := write.NewPointWithMeasurement("dispatch_pass").
		AddTag("demande_id", ev.DemandeID).
		AddTag("vehicle_type", string(ev.VehicleType)).
		AddTag("trigger", ev.Trigger).
		AddField("attempt", ev.Attempt).
		AddField("radius_km", round3(ev.RadiusKm)).
		AddField("candidates", ev.Candidates).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	if ev.Candidates > 0 {
		p = p.AddField("nearest_km", round3(ev.NearestKm)).
			AddField("mean_km", round3(ev.MeanKm))
	}
	return s.write(p)
}

// RecordAcceptance writes an accept attempt.
func (s *InfluxSink) RecordAcceptance(ev coremetrics.AcceptanceEvent) error {
	p := write.NewPointWithMeasurement("acceptance").
		AddTag("demande_id", ev.DemandeID).
		AddTag("technician_id", ev.TechnicianID).
		AddTag("won", strconv.FormatBool(ev.Won))
	if ev.Reason != "" {
		p = p.AddTag("reason", ev.Reason)
	}
	if ev.Won {
		p = p.AddField("distance_km", round3(ev.DistanceKm)).
			AddField("eta_minutes", ev.ETAMinutes)
	} else {
		p = p.AddField("count", 1)
	}
	return s.write(p.SetTime(ev.Time))
}

// RecordTransition writes a committed demande transition.
func (s *InfluxSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	p := write.NewPointWithMeasurement("demande_transition").
		AddTag("demande_id", ev.DemandeID).
		AddTag("from", string(ev.From)).
		AddTag("to", string(ev.To)).
		AddField("actor", ev.Actor)
	if ev.TechnicianID != "" {
		p = p.AddTag("technician_id", ev.TechnicianID)
	}
	return s.write(p.SetTime(ev.Time))
}

// RecordAvailability writes a disponibilite change.
func (s *InfluxSink) RecordAvailability(ev coremetrics.AvailabilityEvent) error {
	p := write.NewPointWithMeasurement("availability_change").
		AddTag("technician_id", ev.TechnicianID).
		AddTag("from", string(ev.From)).
		AddField("to", string(ev.To)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordFleetStatus writes the technician count per disponibilite.
func (s *InfluxSink) RecordFleetStatus(counts map[model.Disponibilite]int) error {
	p := write.NewPointWithMeasurement("fleet_status")
	for status, n := range counts {
		p = p.AddField(string(status), n)
	}
	return s.write(p.SetTime(time.Now()))
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
