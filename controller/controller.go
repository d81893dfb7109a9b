// Package controller runs the OpenFlow side of the barrier: it accepts
// switch connections, performs the 1.3 handshake, learns the topology
// from packet-in traffic, measures control channel latency with echo
// probes, and feeds every packet-in through the flood detector and
// quarantine before normal L2 forwarding.
package controller

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/mycobarrier/mycobarrier/barrier"
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/openflow"
)

// Defaults for the controller configuration
const (
	DefaultAddress      = ":6653"
	DefaultEchoInterval = 2 * time.Second
)

// Config holds the controller settings
type Config struct {
	// Address is the listen address for switch connections
	Address string

	// EchoInterval is how often each datapath is probed for RTT
	EchoInterval time.Duration

	// AutoStrategy, when set, is launched automatically when the
	// detector flags a flood. Empty disables autonomous events.
	AutoStrategy data.Strategy

	// AutoDuration bounds autonomous events
	AutoDuration time.Duration
}

// Controller accepts and drives OpenFlow 1.3 datapaths. It implements
// barrier.Programmer so the event manager can install flows and meters
// through it.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	mapping  *data.Mapping
	dps      map[uint64]*Datapath
	listener net.Listener
	stopped  bool

	detector   *barrier.Detector
	quarantine *barrier.Quarantine
	events     *barrier.Manager

	onSample func(data.Sample)

	stop chan struct{}
}

// NewController creates a controller around an initial host mapping.
// The mapping can be swapped at runtime with SetMapping.
func NewController(cfg Config, mapping *data.Mapping) *Controller {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.EchoInterval <= 0 {
		cfg.EchoInterval = DefaultEchoInterval
	}

	c := &Controller{
		cfg:        cfg,
		mapping:    mapping,
		dps:        make(map[uint64]*Datapath),
		detector:   barrier.NewDetector(),
		quarantine: barrier.NewQuarantine(),
		stop:       make(chan struct{}),
	}
	c.events = barrier.NewManager(c, c.Mapping)
	return c
}

// Detector returns the flood detector
func (c *Controller) Detector() *barrier.Detector { return c.detector }

// Quarantine returns the quarantine list
func (c *Controller) Quarantine() *barrier.Quarantine { return c.quarantine }

// Events returns the mitigation event manager
func (c *Controller) Events() *barrier.Manager { return c.events }

// Mapping returns the current host mapping
func (c *Controller) Mapping() *data.Mapping {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapping
}

// SetMapping swaps the host mapping, typically from a file watcher
func (c *Controller) SetMapping(m *data.Mapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mapping = m
}

// OnSample registers a callback for telemetry samples (RTT, rates)
func (c *Controller) OnSample(f func(data.Sample)) {
	c.onSample = f
}

func (c *Controller) sample(s data.Sample) {
	if c.onSample != nil {
		c.onSample(s)
	}
}

// Addr returns the bound listen address once Run is up, or nil
func (c *Controller) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Run listens for switch connections and blocks until Stop is called.
func (c *Controller) Run() error {
	l, err := net.Listen("tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("CTRL: listen %v: %w", c.cfg.Address, err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		l.Close()
		return nil
	}
	c.listener = l
	c.mu.Unlock()

	log.Println("CTRL: listening on ", l.Addr())

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-c.stop:
				return nil
			default:
				return fmt.Errorf("CTRL: accept: %w", err)
			}
		}
		go func() {
			if err := c.Attach(conn); err != nil {
				log.Println("CTRL: datapath session ended: ", err)
			}
		}()
	}
}

// Stop shuts the controller down and disconnects all datapaths.
func (c *Controller) Stop(err error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stop)
	if c.listener != nil {
		c.listener.Close()
	}
	dps := make([]*Datapath, 0, len(c.dps))
	for _, d := range c.dps {
		dps = append(dps, d)
	}
	c.mu.Unlock()

	for _, d := range dps {
		d.conn.Close()
	}
}

// Attach runs the OpenFlow session on an already established
// connection. It blocks until the connection closes. Run calls it for
// every accepted connection; tests call it directly with a pipe.
func (c *Controller) Attach(conn net.Conn) error {
	defer conn.Close()

	d, err := c.handshake(conn)
	if err != nil {
		return err
	}

	c.register(d)
	defer c.unregister(d)

	stopEcho := make(chan struct{})
	defer close(stopEcho)
	go d.echoLoop(c.cfg.EchoInterval, stopEcho)

	return d.readLoop()
}

func (c *Controller) register(d *Datapath) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.dps[d.ID]; ok {
		log.Printf("CTRL: dpid %d reconnected, dropping old session\n", d.ID)
		old.conn.Close()
	}
	c.dps[d.ID] = d
	log.Printf("CTRL: dpid %d connected from %v\n", d.ID, d.conn.RemoteAddr())
}

func (c *Controller) unregister(d *Datapath) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dps[d.ID] == d {
		delete(c.dps, d.ID)
		log.Printf("CTRL: dpid %d disconnected\n", d.ID)
	}
}

// Datapath returns the session for a connected dpid
func (c *Controller) Datapath(dpid uint64) (*Datapath, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.dps[dpid]
	return d, ok
}

// Dpids returns the connected datapath ids, sorted
func (c *Controller) Dpids() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]uint64, 0, len(c.dps))
	for id := range c.dps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SendFlowMod sends a flow mod to one datapath
func (c *Controller) SendFlowMod(dpid uint64, f openflow.FlowMod) error {
	d, ok := c.Datapath(dpid)
	if !ok {
		return fmt.Errorf("CTRL: dpid %d not connected", dpid)
	}
	return d.send(f.Marshal(d.nextXid()))
}

// SendMeterMod sends a meter mod to one datapath
func (c *Controller) SendMeterMod(dpid uint64, m openflow.MeterMod) error {
	d, ok := c.Datapath(dpid)
	if !ok {
		return fmt.Errorf("CTRL: dpid %d not connected", dpid)
	}
	return d.send(m.Marshal(d.nextXid()))
}
