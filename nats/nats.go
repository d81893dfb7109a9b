// Package nats is the telemetry bus wiring: subject names and typed
// JSON publish/subscribe helpers for controller events, quarantine
// transitions and metric samples.
package nats

import (
	"encoding/json"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/mycobarrier/mycobarrier/data"
)

// Telemetry subjects
const (
	SubjectEvent      = "myco.event"
	SubjectQuarantine = "myco.quarantine"
	SubjectRTT        = "myco.rtt"
	SubjectMetric     = "myco.metric"
)

// SubjectForSample routes a sample to its subject by type
func SubjectForSample(s data.Sample) string {
	if s.Type == data.SampleTypeRTT {
		return SubjectRTT
	}
	return SubjectMetric
}

// Connect dials the bus with sane retry behavior
func Connect(url string, authToken string) (*natsgo.Conn, error) {
	nc, err := natsgo.Connect(url,
		natsgo.Timeout(10*time.Second),
		natsgo.Token(authToken),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("Error connecting to NATS %v: %w", url, err)
	}
	return nc, nil
}

func publish(nc *natsgo.Conn, subject string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return nc.Publish(subject, b)
}

// PublishEvent publishes a mitigation event transition
func PublishEvent(nc *natsgo.Conn, ev data.Event) error {
	return publish(nc, SubjectEvent, ev)
}

// PublishQuarantine publishes a quarantine transition
func PublishQuarantine(nc *natsgo.Conn, r data.QuarantineRecord) error {
	return publish(nc, SubjectQuarantine, r)
}

// PublishSample publishes a telemetry sample on its type's subject
func PublishSample(nc *natsgo.Conn, s data.Sample) error {
	return publish(nc, SubjectForSample(s), s)
}

// SubscribeEvents delivers decoded events to f
func SubscribeEvents(nc *natsgo.Conn, f func(data.Event)) (*natsgo.Subscription, error) {
	return nc.Subscribe(SubjectEvent, func(m *natsgo.Msg) {
		var ev data.Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			return
		}
		f(ev)
	})
}

// SubscribeQuarantine delivers decoded quarantine records to f
func SubscribeQuarantine(nc *natsgo.Conn, f func(data.QuarantineRecord)) (*natsgo.Subscription, error) {
	return nc.Subscribe(SubjectQuarantine, func(m *natsgo.Msg) {
		var r data.QuarantineRecord
		if err := json.Unmarshal(m.Data, &r); err != nil {
			return
		}
		f(r)
	})
}

// SubscribeSamples delivers all decoded samples (RTT and metric) to f
func SubscribeSamples(nc *natsgo.Conn, f func(data.Sample)) (*natsgo.Subscription, error) {
	return nc.Subscribe("myco.>", func(m *natsgo.Msg) {
		if m.Subject != SubjectRTT && m.Subject != SubjectMetric {
			return
		}
		var s data.Sample
		if err := json.Unmarshal(m.Data, &s); err != nil {
			return
		}
		f(s)
	})
}
