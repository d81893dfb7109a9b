package barrier

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/openflow"
	"github.com/mycobarrier/mycobarrier/packet"
)

// Programmer is the switch-facing side the manager programs through.
// The controller implements it for live datapaths and the simulator
// implements it for tests.
type Programmer interface {
	// Dpids returns the connected datapath ids
	Dpids() []uint64

	// SendFlowMod sends a flow mod to one datapath
	SendFlowMod(dpid uint64, f openflow.FlowMod) error

	// SendMeterMod sends a meter mod to one datapath
	SendMeterMod(dpid uint64, m openflow.MeterMod) error
}

// Manager runs mitigation events. At most one event is active at a
// time; starting a second one fails until the first ends or expires.
// Every flow and meter an event installs carries the event cookie, so
// ending an event is a cookie-wildcarded delete on every datapath.
type Manager struct {
	mu sync.Mutex

	prog       Programmer
	mapping    func() *data.Mapping
	strategies map[data.Strategy]Strategy

	active *data.Event
	timer  *time.Timer

	now     func() time.Time
	onEvent func(data.Event)
}

// NewManager returns an event manager. mapping is called at event
// start so a reloaded topology file takes effect without a restart.
func NewManager(prog Programmer, mapping func() *data.Mapping) *Manager {
	return &Manager{
		prog:       prog,
		mapping:    mapping,
		strategies: Strategies(),
		now:        time.Now,
	}
}

// SetClock replaces the time source, for tests
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// OnEvent registers a callback invoked when an event starts and again
// when it ends, used for persistence and bus publishing.
func (m *Manager) OnEvent(f func(data.Event)) {
	m.onEvent = f
}

func (m *Manager) emit(ev data.Event) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}

// Active returns a copy of the running event, or nil
func (m *Manager) Active() *data.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}
	ev := *m.active
	return &ev
}

// Start launches a mitigation event against targetIP using the named
// strategy. The target and its proxy are resolved from the current
// host mapping. The event ends automatically after d.
func (m *Manager) Start(strategy data.Strategy, targetIP string, d time.Duration) (data.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return data.Event{}, fmt.Errorf("barrier: event %v already active against %v",
			m.active.ID, m.active.TargetIP)
	}

	st, ok := m.strategies[strategy]
	if !ok {
		return data.Event{}, fmt.Errorf("barrier: unknown strategy %v", strategy)
	}

	mapping := m.mapping()
	if mapping == nil {
		return data.Event{}, fmt.Errorf("barrier: no host mapping loaded")
	}

	target, ok := mapping.HostByIP(targetIP)
	if !ok {
		return data.Event{}, fmt.Errorf("barrier: target %v not in host mapping", targetIP)
	}

	t := m.now()
	ev := data.Event{
		ID:         uuid.New().String(),
		Strategy:   strategy,
		TargetIP:   target.IP,
		TargetMAC:  target.MAC,
		TargetDpid: target.Dpid,
		Duration:   d,
		Cookie:     uint64(t.UnixMilli()),
		Start:      t,
	}

	// Scout needs no proxy; box and swap fail without one at the
	// target's edge.
	if proxy, ok := mapping.ProxyForDpid(target.Dpid); ok {
		ev.ProxyIP = proxy.IP
		ev.ProxyMAC = proxy.MAC
		ev.ProxyPort = proxy.Port
	}

	prog, err := st.Program(ev, m.prog.Dpids())
	if err != nil {
		return data.Event{}, err
	}

	for _, op := range prog.Meters {
		if err := m.prog.SendMeterMod(op.Dpid, op.Meter); err != nil {
			m.cleanup(ev)
			return data.Event{}, fmt.Errorf("barrier: meter mod to dpid %d: %w", op.Dpid, err)
		}
	}
	for _, op := range prog.Flows {
		if err := m.prog.SendFlowMod(op.Dpid, op.Flow); err != nil {
			m.cleanup(ev)
			return data.Event{}, fmt.Errorf("barrier: flow mod to dpid %d: %w", op.Dpid, err)
		}
	}

	m.active = &ev
	if d > 0 {
		id := ev.ID
		m.timer = time.AfterFunc(d, func() {
			if _, err := m.EndIf(id); err != nil {
				log.Printf("BARRIER: auto end of event %v: %v\n", id, err)
			}
		})
	}

	log.Printf("BARRIER: event %v started, %v against %v for %v\n",
		ev.ID, ev.Strategy, ev.TargetIP, d)

	m.emit(ev)
	return ev, nil
}

// End stops the active event and removes its flows and meters from
// every datapath.
func (m *Manager) End() (data.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endLocked("")
}

// EndIf ends the active event only if its id matches, so an expired
// auto-end timer cannot tear down a later event.
func (m *Manager) EndIf(id string) (data.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endLocked(id)
}

func (m *Manager) endLocked(id string) (data.Event, error) {
	if m.active == nil {
		return data.Event{}, fmt.Errorf("barrier: no active event")
	}
	if id != "" && m.active.ID != id {
		return data.Event{}, fmt.Errorf("barrier: event %v is not active", id)
	}

	ev := *m.active
	ev.End = m.now()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	m.cleanup(ev)

	m.active = nil

	log.Printf("BARRIER: event %v ended after %v\n", ev.ID,
		ev.End.Sub(ev.Start).Round(time.Millisecond))

	m.emit(ev)
	return ev, nil
}

// cleanup removes everything tagged with the event cookie from every
// datapath. Used when an event ends, and when programming fails
// partway so earlier mods are not orphaned. Callers must hold the
// lock.
func (m *Manager) cleanup(ev data.Event) {
	del := openflow.DeleteFlowsByCookie(ev.Cookie)
	for _, dpid := range m.prog.Dpids() {
		if err := m.prog.SendFlowMod(dpid, del); err != nil {
			log.Printf("BARRIER: flow cleanup on dpid %d: %v\n", dpid, err)
		}
	}

	if ev.Strategy == data.StrategyScout {
		delMeter := openflow.DeleteMeter(EventMeterID(ev.Cookie))
		if err := m.prog.SendMeterMod(ev.TargetDpid, delMeter); err != nil {
			log.Printf("BARRIER: meter cleanup on dpid %d: %v\n", ev.TargetDpid, err)
		}
	}
}

// Steer returns an ARP reply to send in place of flooding f, or nil
// when no active swap event claims the requested address.
func (m *Manager) Steer(f packet.Frame) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}
	return SteerARP(*m.active, f)
}
