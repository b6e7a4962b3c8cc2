package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSubscriber is the part of mqtt.Client ingestion uses.
type MQTTSubscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

const mqttWait = 10 * time.Second

func (m *Manager) subscribe() error {
	token := m.mqtt.Subscribe(m.cfg.MQTTTopic, 1, m.onMessage)
	if !token.WaitTimeout(mqttWait) {
		return fmt.Errorf("subscribe %s: timed out", m.cfg.MQTTTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.cfg.MQTTTopic, err)
	}
	m.logger.Info("subscribed to readings", "topic", m.cfg.MQTTTopic)
	return nil
}

func (m *Manager) unsubscribe() {
	token := m.mqtt.Unsubscribe(m.cfg.MQTTTopic)
	if token.WaitTimeout(mqttWait) && token.Error() != nil {
		m.logger.Warn("unsubscribe readings", "error", token.Error())
	}
}

// sensorFromTopic extracts <id> from sensors/<id>/readings.
func sensorFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "sensors" || parts[2] != "readings" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (m *Manager) onMessage(_ mqtt.Client, msg mqtt.Message) {
	sensorID, ok := sensorFromTopic(msg.Topic())
	if !ok {
		m.metrics.IngestMessages.WithLabelValues("mqtt", "malformed").Inc()
		m.logger.Warn("unexpected reading topic", "topic", msg.Topic())
		return
	}

	var r Reading
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		m.metrics.IngestMessages.WithLabelValues("mqtt", "malformed").Inc()
		m.logger.Warn("malformed reading", "topic", msg.Topic(), "error", err)
		return
	}
	if r.SensorID != "" && r.SensorID != sensorID {
		m.metrics.IngestMessages.WithLabelValues("mqtt", "malformed").Inc()
		m.logger.Warn("reading sensor does not match topic", "topic", msg.Topic(), "sensor_id", r.SensorID)
		return
	}
	r.SensorID = sensorID
	r.source = "mqtt"

	if err := m.submit(r); err != nil {
		m.logger.Warn("drop reading", "sensor_id", sensorID, "error", err)
	}
}
