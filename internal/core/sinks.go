package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/infrastructure/mqtt"
)

// statePayload is the retained per-device state message.
type statePayload struct {
	DeviceID  string        `json:"device_id"`
	Name      string        `json:"name,omitempty"`
	Ports     []portPayload `json:"ports"`
	UpdatedAt string        `json:"updated_at"`
}

type portPayload struct {
	Port            int    `json:"port"`
	Name            string `json:"name,omitempty"`
	On              bool   `json:"on"`
	PowerMilliwatts int64  `json:"power_mw"`
}

// setPayload is the inbound command message on the per-device set topic.
type setPayload struct {
	Port int  `json:"port"`
	On   bool `json:"on"`
}

// discoveredPayload announces a newly registered device.
type discoveredPayload struct {
	DeviceID  string `json:"device_id"`
	IP        string `json:"ip"`
	Protocol  string `json:"protocol"`
	PortCount int    `json:"port_count"`
}

// handleStatus is the poll coordinator's status listener: it fans each
// successful poll out to the sinks and any registered listeners.
func (m *Manager) handleStatus(rec *device.Record, statuses []device.PortStatus) {
	m.setAvailability(rec.ID, true)
	m.publishState(rec, statuses)

	if m.telemetry != nil {
		for _, st := range statuses {
			m.telemetry.WritePortSample(rec.ID, st.Port, st.On, st.PowerMilliwatts)
		}
	}

	m.mu.Lock()
	listeners := append([]StatusListener(nil), m.listeners...)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener(rec, statuses)
	}
}

// publishState pushes the retained state snapshot to the broker.
func (m *Manager) publishState(rec *device.Record, statuses []device.PortStatus) {
	if m.publisher == nil {
		return
	}

	payload := statePayload{
		DeviceID:  rec.ID,
		Name:      rec.Name,
		Ports:     make([]portPayload, 0, len(statuses)),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, st := range statuses {
		p := portPayload{
			Port:            st.Port,
			On:              st.On,
			PowerMilliwatts: st.PowerMilliwatts,
		}
		if st.Port >= 1 && st.Port <= len(rec.PortNames) {
			p.Name = rec.PortNames[st.Port-1]
		}
		payload.Ports = append(payload.Ports, p)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	topic := mqtt.Topics{}.DeviceState(rec.ID)
	if err := m.publisher.PublishRetained(topic, data); err != nil {
		m.log().Warn("publishing device state failed",
			"device_id", rec.ID, "error", err)
	}
}

// publishAvailability pushes the retained availability flag.
func (m *Manager) publishAvailability(id string, available bool) {
	if m.publisher == nil {
		return
	}

	payload := []byte("offline")
	if available {
		payload = []byte("online")
	}

	topic := mqtt.Topics{}.DeviceAvailability(id)
	if err := m.publisher.PublishRetained(topic, payload); err != nil {
		m.log().Warn("publishing availability failed",
			"device_id", id, "error", err)
	}
}

// publishDiscovered announces a newly registered device.
func (m *Manager) publishDiscovered(rec *device.Record) {
	if m.publisher == nil {
		return
	}

	data, err := json.Marshal(discoveredPayload{
		DeviceID:  rec.ID,
		IP:        rec.IP,
		Protocol:  string(rec.Protocol),
		PortCount: rec.PortCount,
	})
	if err != nil {
		return
	}

	topic := mqtt.Topics{}.Discovery()
	if err := m.publisher.Publish(topic, data, m.cfg.QoS, false); err != nil {
		m.log().Warn("publishing discovery announcement failed",
			"device_id", rec.ID, "error", err)
	}
}

// subscribeCommands accepts switch requests over the per-device set topics.
func (m *Manager) subscribeCommands() error {
	topic := mqtt.Topics{}.AllDeviceSets()
	return m.publisher.Subscribe(topic, m.cfg.QoS, m.handleCommand)
}

// handleCommand parses one set message and dispatches it.
func (m *Manager) handleCommand(topic string, payload []byte) error {
	id := mqtt.DeviceIDFromTopic(topic)
	if id == "" {
		m.log().Warn("command on unrecognised topic", "topic", topic)
		return nil
	}

	var cmd setPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.log().Warn("malformed command payload",
			"device_id", id, "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(m.watchCtx(), m.cfg.CommandTimeout)
	defer cancel()

	res, err := m.SetPort(ctx, id, cmd.Port, cmd.On)
	if err != nil {
		m.log().Warn("mqtt command failed",
			"device_id", id, "port", cmd.Port, "error", err)
		return nil
	}
	if !res.OK() {
		m.log().Warn("mqtt command not applied",
			"device_id", id, "port", cmd.Port,
			"outcome", res.Outcome, "error", res.Err)
	}
	return nil
}
