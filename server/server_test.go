package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/nats"
	"github.com/mycobarrier/mycobarrier/sim"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for ", what)
}

func TestServerLifecycle(t *testing.T) {
	o, stop, err := TestServer()
	if err != nil {
		t.Fatal("test server: ", err)
	}
	defer stop()

	base := "http://" + o.HTTPAddress

	// a switch dials in and shows up on the API
	sw := sim.NewSwitch(1)
	go func() { _ = sw.Dial(o.OFAddress) }()
	if err := sw.WaitReady(5 * time.Second); err != nil {
		t.Fatal("switch handshake: ", err)
	}

	waitFor(t, "datapath registration", func() bool {
		var views []struct {
			Dpid uint64 `json:"dpid"`
		}
		resp, err := http.Get(base + "/datapaths")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
			return false
		}
		return len(views) == 1 && views[0].Dpid == 1
	})

	// events started over the API land on the bus and on the switch
	nc, err := nats.Connect("nats://127.0.0.1:4990", "")
	if err != nil {
		t.Fatal("bus connect: ", err)
	}
	defer nc.Close()

	chEvent := make(chan data.Event, 4)
	sub, err := nats.SubscribeEvents(nc, func(ev data.Event) {
		chEvent <- ev
	})
	if err != nil {
		t.Fatal("subscribe: ", err)
	}
	defer sub.Unsubscribe()

	body, _ := json.Marshal(map[string]interface{}{
		"strategy":   "swap",
		"target_ip":  "10.0.0.1",
		"duration_s": 30,
	})
	resp, err := http.Post(base+"/event", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal("start event: ", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start event returned %v", resp.Status)
	}

	var ev data.Event
	select {
	case ev = <-chEvent:
	case <-time.After(2 * time.Second):
		t.Fatal("no event published on the bus")
	}
	if ev.Strategy != data.StrategySwap || ev.TargetIP != "10.0.0.1" {
		t.Fatalf("unexpected event on the bus: %+v", ev)
	}
	if ev.ProxyIP != "10.0.0.100" {
		t.Errorf("event did not resolve the sandbox proxy: %+v", ev)
	}

	waitFor(t, "event flows", func() bool {
		return len(sw.FlowsWithCookie(ev.Cookie)) > 0
	})

	// ending the event cleans the switch and publishes the end
	req, _ := http.NewRequest(http.MethodDelete, base+"/event", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal("end event: ", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end event returned %v", resp.Status)
	}

	select {
	case <-chEvent:
	case <-time.After(2 * time.Second):
		t.Fatal("no end event published on the bus")
	}

	waitFor(t, "event cleanup", func() bool {
		return len(sw.FlowsWithCookie(ev.Cookie)) == 0
	})
}

func TestArgs(t *testing.T) {
	o, err := Args([]string{
		"-ofAddress", "127.0.0.1:7777",
		"-autoStrategy", "scout",
		"-threshold", "15",
	}, nil)
	if err != nil {
		t.Fatal("args: ", err)
	}
	if o.OFAddress != "127.0.0.1:7777" {
		t.Errorf("ofAddress not applied: %v", o.OFAddress)
	}
	if o.AutoStrategy != data.StrategyScout {
		t.Errorf("autoStrategy not applied: %v", o.AutoStrategy)
	}
	if o.Threshold != 15 {
		t.Errorf("threshold not applied: %v", o.Threshold)
	}
	if o.HTTPAddress != ":8118" {
		t.Errorf("default httpAddress wrong: %v", o.HTTPAddress)
	}

	if _, err := Args([]string{"-autoStrategy", "bogus"}, nil); err == nil {
		t.Error("invalid strategy accepted")
	}
}
