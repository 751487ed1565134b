package mqtt

import (
	"encoding/json"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/depannage/core/logger"
)

// PositionUpdater receives technician positions pushed by their apps.
type PositionUpdater interface {
	UpdatePosition(technicianID string, lat, lng float64) error
}

type subscriber interface {
	Topic(parts ...string) string
	Subscribe(topic, kind string, handler paho.MessageHandler) error
}

type positionMessage struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// ListenPositions subscribes to <prefix>/techniciens/+/position and feeds
// every report into svc. Malformed reports are logged and dropped.
func ListenPositions(c subscriber, svc PositionUpdater, log logger.Logger) error {
	return c.Subscribe(c.Topic("techniciens", "+", "position"), "position", func(_ paho.Client, msg paho.Message) {
		id := technicianFromTopic(msg.Topic())
		if id == "" {
			log.Warnf("position on unexpected topic %q", msg.Topic())
			return
		}
		var p positionMessage
		if err := json.Unmarshal(msg.Payload(), &p); err != nil || p.Lat == nil || p.Lng == nil {
			log.Warnf("bad position payload from %s", id)
			return
		}
		if err := svc.UpdatePosition(id, *p.Lat, *p.Lng); err != nil {
			log.Warnf("position of %s rejected: %v", id, err)
		}
	})
}

func technicianFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	n := len(parts)
	if n < 3 || parts[n-1] != "position" || parts[n-3] != "techniciens" {
		return ""
	}
	return parts[n-2]
}
