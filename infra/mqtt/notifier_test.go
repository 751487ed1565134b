package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depannage/core/events"
	"github.com/kilianp07/depannage/core/model"
	"github.com/kilianp07/depannage/infra/logger"
	"github.com/kilianp07/depannage/internal/eventbus"
)

func newTestNotifier(t *testing.T, mc *mockClient) *Notifier {
	t.Helper()
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1}, logger.NopLogger{})
	require.NoError(t, err)
	n := NewNotifier(cli)
	n.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return n
}

func topics(mc *mockClient) []string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([]string, len(mc.published))
	for i, p := range mc.published {
		out[i] = p.topic
	}
	return out
}

func TestNotifyCandidatesFansOutOffers(t *testing.T) {
	mc := &mockClient{}
	n := newTestNotifier(t, mc)
	ev := events.CandidatesUpdated{Attempt: 1, Set: model.CandidateSet{
		DemandeID: "d1", RadiusKm: 10,
		Candidates: []model.Candidate{
			{TechnicianID: "a", DistanceKm: 2.04, ETAMinutes: 4},
			{TechnicianID: "b", DistanceKm: 4.1, ETAMinutes: 7},
		},
	}}
	require.NoError(t, n.Notify(context.Background(), ev))
	assert.Equal(t, []string{
		"depannage/demandes/d1/candidates",
		"depannage/techniciens/a/offers",
		"depannage/techniciens/b/offers",
	}, topics(mc))

	var msg struct {
		Type      string       `json:"type"`
		Timestamp int64        `json:"timestamp"`
		Data      offerPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(mc.published[1].payload, &msg))
	assert.Equal(t, "candidates_updated", msg.Type)
	assert.Equal(t, int64(1700000000000), msg.Timestamp)
	assert.Equal(t, 2.0, msg.Data.DistanceKm)
	assert.Equal(t, 4, msg.Data.ETAMinutes)
}

func TestNotifyAcceptedPublishesStatusAndAssignment(t *testing.T) {
	mc := &mockClient{}
	n := newTestNotifier(t, mc)
	require.NoError(t, n.Notify(context.Background(), events.DemandeAccepted{
		DemandeID: "d1", ClientID: "c1", TechnicianID: "b", DistanceKm: 4.02, ETAMinutes: 6,
	}))
	assert.Equal(t, []string{"depannage/demandes/d1/status", "depannage/techniciens/b/offers"}, topics(mc))

	var msg struct {
		Data statusPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(mc.published[0].payload, &msg))
	assert.Equal(t, model.StatusAcceptee, msg.Data.Status)
	require.NotNil(t, msg.Data.ETAMinutes)
	assert.Equal(t, 6, *msg.Data.ETAMinutes)
}

func TestNotifyIgnoresInternalEvents(t *testing.T) {
	mc := &mockClient{}
	n := newTestNotifier(t, mc)
	require.NoError(t, n.Notify(context.Background(), events.AvailabilityChanged{TechnicianID: "a"}))
	require.NoError(t, n.Notify(context.Background(), events.PositionUpdated{TechnicianID: "a"}))
	assert.Empty(t, topics(mc))
}

func TestNotifyReturnsPublishFailure(t *testing.T) {
	fail := errors.New("broker down")
	mc := &mockClient{publishErrs: []error{fail, fail}}
	n := newTestNotifier(t, mc)
	err := n.Notify(context.Background(), events.ClaimRejected{DemandeID: "d1", TechnicianID: "a", Reason: "already_assigned"})
	assert.ErrorIs(t, err, fail)
}

func TestNotifyHonoursContext(t *testing.T) {
	mc := &mockClient{}
	n := newTestNotifier(t, mc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := n.Notify(ctx, events.DemandeTransitioned{DemandeID: "d1", To: model.StatusAnnulee})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, topics(mc))
}

func TestForwardSkipsAcceptances(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe()
	mock := NewMockNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Forward(ctx, sub, mock, logger.NopLogger{})
		close(done)
	}()

	bus.Publish(events.DemandeAccepted{DemandeID: "d1", TechnicianID: "a"})
	bus.Publish(events.DemandeTransitioned{DemandeID: "d1", To: model.StatusAcceptee})
	assert.Eventually(t, func() bool { return mock.Count("demande_transitioned") == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, mock.Count("demande_accepted"))

	cancel()
	<-done
}

type positions struct {
	got map[string]model.Point
	err error
}

func (p *positions) UpdatePosition(id string, lat, lng float64) error {
	if p.err != nil {
		return p.err
	}
	p.got[id] = model.Point{Lat: lat, Lng: lng}
	return nil
}

func TestListenPositions(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"}, logger.NopLogger{})
	require.NoError(t, err)
	sink := &positions{got: map[string]model.Point{}}
	require.NoError(t, ListenPositions(cli, sink, logger.NopLogger{}))
	require.Len(t, mc.subscribed, 1)
	assert.Equal(t, "depannage/techniciens/+/position", mc.subscribed[0].topic)

	h := mc.subscribed[0].handler
	var c paho.Client = mc
	h(c, mockMessage{topic: "depannage/techniciens/t7/position", p: []byte(`{"lat":6.37,"lng":2.39}`)})
	h(c, mockMessage{topic: "depannage/techniciens/t8/position", p: []byte(`{"lat":6.37}`)})
	h(c, mockMessage{topic: "depannage/other", p: []byte(`{"lat":1,"lng":1}`)})

	assert.Equal(t, map[string]model.Point{"t7": {Lat: 6.37, Lng: 2.39}}, sink.got)
}

func TestMockNotifierFailure(t *testing.T) {
	m := NewMockNotifier()
	m.Fail["demande_accepted"] = errors.New("down")
	assert.Error(t, m.Notify(context.Background(), events.DemandeAccepted{}))
	assert.NoError(t, m.Notify(context.Background(), events.DemandeCreated{}))
	assert.Len(t, m.Events(), 1)
}
