package nats

import (
	"testing"
	"time"

	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/natsserver"
)

func TestPublishSubscribe(t *testing.T) {
	ns, err := natsserver.NewServer(natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = ns.Run() }()
	t.Cleanup(func() { ns.Stop(nil) })

	if err := ns.WaitReady(5 * time.Second); err != nil {
		t.Fatal(err)
	}

	nc, err := Connect(ns.ClientURL(), "")
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	events := make(chan data.Event, 1)
	sub, err := SubscribeEvents(nc, func(ev data.Event) { events <- ev })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	samples := make(chan data.Sample, 2)
	ssub, err := SubscribeSamples(nc, func(s data.Sample) { samples <- s })
	if err != nil {
		t.Fatal(err)
	}
	defer ssub.Unsubscribe()

	ev := data.Event{
		ID:       "ev-1",
		Strategy: data.StrategyBox,
		TargetIP: "10.0.0.1",
		Cookie:   42,
		Start:    time.Now(),
	}
	if err := PublishEvent(nc, ev); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-events:
		if got.ID != ev.ID || got.Strategy != ev.Strategy {
			t.Errorf("event mangled on the bus: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	rtt := data.Sample{Type: data.SampleTypeRTT, Time: time.Now(), Dpid: 1, Value: 0.8}
	cpu := data.Sample{Type: data.SampleTypeCPU, Time: time.Now(), Value: 12.5}
	if err := PublishSample(nc, rtt); err != nil {
		t.Fatal(err)
	}
	if err := PublishSample(nc, cpu); err != nil {
		t.Fatal(err)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-samples:
			got[s.Type] = true
		case <-time.After(2 * time.Second):
			t.Fatal("samples not delivered, got ", got)
		}
	}
	if !got[data.SampleTypeRTT] || !got[data.SampleTypeCPU] {
		t.Errorf("missing sample types: %v", got)
	}
}

func TestSubjectForSample(t *testing.T) {
	if s := SubjectForSample(data.Sample{Type: data.SampleTypeRTT}); s != SubjectRTT {
		t.Errorf("rtt routed to %v", s)
	}
	if s := SubjectForSample(data.Sample{Type: data.SampleTypeRAM}); s != SubjectMetric {
		t.Errorf("ram routed to %v", s)
	}
}
