package experiment

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mycobarrier/mycobarrier/controller"
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/packet"
	"github.com/mycobarrier/mycobarrier/sim"
	"github.com/mycobarrier/mycobarrier/store"
)

// RunConfig controls an experiment sweep
type RunConfig struct {
	// Strategies to sweep. Defaults to all three.
	Strategies []data.Strategy

	// AttackFrames is the SYN flood volume per run
	AttackFrames int

	// LegitFrames is the legitimate traffic offered while mitigation
	// is active, scored for delivery.
	LegitFrames int

	// EventDuration bounds each mitigation event
	EventDuration time.Duration

	// OutputDir receives summary.csv. Empty disables CSV output.
	OutputDir string
}

// RunResult is the outcome of one strategy run
type RunResult struct {
	Strategy         data.Strategy
	Offered          int
	Delivered        int
	Redirected       int
	PDR              float64
	AttackerIsolated bool
	VerifyPassed     bool
	CtrlLatencyMs    float64
}

// Runner sweeps strategies against a simulated topology built from a
// host mapping: one edge switch, a protected server, a legitimate
// client, an attacker, and a sandbox proxy.
type Runner struct {
	Config  RunConfig
	Mapping *data.Mapping
}

// Run executes the sweep and returns per-strategy results
func (r *Runner) Run() ([]RunResult, error) {
	cfg := r.Config
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = []data.Strategy{data.StrategyScout, data.StrategyBox, data.StrategySwap}
	}
	if cfg.AttackFrames <= 0 {
		cfg.AttackFrames = 100
	}
	if cfg.LegitFrames <= 0 {
		cfg.LegitFrames = 50
	}
	if cfg.EventDuration <= 0 {
		cfg.EventDuration = 30 * time.Second
	}

	var results []RunResult
	for _, strategy := range cfg.Strategies {
		res, err := r.runOne(strategy, cfg)
		if err != nil {
			return results, fmt.Errorf("run %v: %w", strategy, err)
		}
		results = append(results, res)
	}

	if cfg.OutputDir != "" {
		if err := writeSummary(filepath.Join(cfg.OutputDir, "summary.csv"), results); err != nil {
			return results, err
		}
	}

	return results, nil
}

// topology resolves the roles the runner needs from the mapping
type topology struct {
	server   data.Host
	client   data.Host
	attacker data.Host
	proxy    data.Host
}

func (r *Runner) topology() (topology, error) {
	var topo topology

	var hosts []data.Host
	for _, h := range r.Mapping.Hosts {
		if h.Role == "server" && topo.server.Name == "" {
			topo.server = h
			continue
		}
		hosts = append(hosts, h)
	}
	if topo.server.Name == "" {
		return topo, fmt.Errorf("mapping has no server host")
	}
	if len(hosts) < 2 {
		return topo, fmt.Errorf("mapping needs a client and an attacker host")
	}
	topo.client = hosts[0]
	topo.attacker = hosts[len(hosts)-1]

	proxy, ok := r.Mapping.ProxyForDpid(topo.server.Dpid)
	if !ok {
		return topo, fmt.Errorf("no proxy on the server's edge dpid %d", topo.server.Dpid)
	}
	topo.proxy = proxy

	return topo, nil
}

func (r *Runner) runOne(strategy data.Strategy, cfg RunConfig) (RunResult, error) {
	res := RunResult{Strategy: strategy}

	topo, err := r.topology()
	if err != nil {
		return res, err
	}

	c := controller.NewController(controller.Config{
		Address:      "127.0.0.1:0",
		EchoInterval: 100 * time.Millisecond,
	}, r.Mapping)

	rtt := data.NewSampleAverager(data.SampleTypeRTT)
	c.OnSample(func(s data.Sample) {
		if s.Type == data.SampleTypeRTT {
			rtt.AddSample(s)
		}
	})

	go func() { _ = c.Run() }()
	defer c.Stop(nil)

	addr, err := waitAddr(c)
	if err != nil {
		return res, err
	}

	sw := sim.NewSwitch(topo.server.Dpid)
	go func() { _ = sw.Dial(addr) }()
	if err := sw.WaitReady(5 * time.Second); err != nil {
		return res, err
	}
	if err := waitDatapath(c, topo.server.Dpid); err != nil {
		return res, err
	}

	serverMAC, err := topo.server.MACAddr()
	if err != nil {
		return res, err
	}
	clientMAC, err := topo.client.MACAddr()
	if err != nil {
		return res, err
	}
	attackerMAC, err := topo.attacker.MACAddr()
	if err != nil {
		return res, err
	}

	// prime learning so baseline forwarding flows exist
	hello := packet.BuildTCP(clientMAC, serverMAC,
		topo.server.IPAddr(), topo.client.IPAddr(), 80, 40000, packet.TCPFlagACK)
	if err := sw.SendPacketIn(topo.server.Port, hello); err != nil {
		return res, err
	}
	legit := packet.BuildSYN(serverMAC, clientMAC,
		topo.client.IPAddr(), topo.server.IPAddr(), 80)
	if err := sw.SendPacketIn(topo.client.Port, legit); err != nil {
		return res, err
	}
	if err := waitCond("baseline forwarding", func() bool {
		fwd := sw.Evaluate(topo.client.Port, legit)
		return fwd.Matched && hasPort(fwd.Ports, topo.server.Port)
	}); err != nil {
		return res, err
	}

	// attack window
	attack := packet.BuildSYN(serverMAC, attackerMAC,
		topo.attacker.IPAddr(), topo.server.IPAddr(), 80)
	for i := 0; i < cfg.AttackFrames; i++ {
		if err := sw.SendPacketIn(topo.attacker.Port, attack); err != nil {
			return res, err
		}
	}
	if err := waitCond("attacker isolation", func() bool {
		return c.Quarantine().Len() > 0
	}); err != nil {
		return res, err
	}
	res.AttackerIsolated = true

	// trigger mitigation
	ev, err := c.Events().Start(strategy, topo.server.IP, cfg.EventDuration)
	if err != nil {
		return res, err
	}
	if err := waitCond("event flows", func() bool {
		return len(sw.FlowsWithCookie(ev.Cookie)) > 0
	}); err != nil {
		return res, err
	}

	// score legitimate traffic against the switch tables
	res.Offered = cfg.LegitFrames
	for i := 0; i < cfg.LegitFrames; i++ {
		fwd := sw.Evaluate(topo.client.Port, legit)
		if !fwd.Matched {
			continue
		}
		if hasPort(fwd.Ports, topo.server.Port) {
			res.Delivered++
		}
		if hasPort(fwd.Ports, topo.proxy.Port) {
			res.Redirected++
		}
	}
	res.PDR = float64(res.Delivered) / float64(res.Offered)

	// verify over the live multipart path
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, ok := c.Datapath(topo.server.Dpid)
	if !ok {
		return res, fmt.Errorf("dpid %d lost during run", topo.server.Dpid)
	}
	check, err := VerifyDatapath(ctx, d, strategy)
	if err != nil {
		return res, err
	}
	res.VerifyPassed = check.Passed
	log.Printf("EXP: %v, details: %v\n", check, check.Details)

	if _, err := c.Events().End(); err != nil {
		return res, err
	}

	if rtt.Count() > 0 {
		res.CtrlLatencyMs = rtt.GetAverage().Value
	}

	return res, nil
}

func hasPort(ports []uint32, p uint32) bool {
	for _, v := range ports {
		if v == p {
			return true
		}
	}
	return false
}

func waitAddr(c *controller.Controller) (string, error) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a := c.Addr(); a != nil {
			return a.String(), nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return "", fmt.Errorf("controller listener never came up")
}

func waitDatapath(c *controller.Controller, dpid uint64) error {
	return waitCond(fmt.Sprintf("dpid %d", dpid), func() bool {
		_, ok := c.Datapath(dpid)
		return ok
	})
}

func waitCond(what string, cond func() bool) error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for %v", what)
}

func writeSummary(path string, results []RunResult) error {
	w, err := store.NewCSVRecorder(path, []string{
		"Strategy", "Offered", "Delivered", "Redirected", "PDR",
		"AttackerIsolated", "Verify", "CtrlLatencyMs",
	})
	if err != nil {
		return err
	}
	defer w.Close()

	for _, r := range results {
		err := w.Write([]string{
			string(r.Strategy),
			strconv.Itoa(r.Offered),
			strconv.Itoa(r.Delivered),
			strconv.Itoa(r.Redirected),
			strconv.FormatFloat(r.PDR, 'f', 3, 64),
			strconv.FormatBool(r.AttackerIsolated),
			strconv.FormatBool(r.VerifyPassed),
			strconv.FormatFloat(r.CtrlLatencyMs, 'f', 3, 64),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
