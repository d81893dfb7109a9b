package data

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
)

// Host describes a host or sandbox proxy attached to an edge switch.
// Dpid and Port locate the switch port the host hangs off.
type Host struct {
	Name string `json:"name" yaml:"name"`
	Role string `json:"role" yaml:"role"`
	IP   string `json:"ip" yaml:"ip"`
	MAC  string `json:"mac" yaml:"mac"`
	Dpid uint64 `json:"dpid" yaml:"dpid"`
	Port uint32 `json:"port" yaml:"port"`
}

// IPAddr returns the parsed IP of the host
func (h Host) IPAddr() net.IP {
	return net.ParseIP(h.IP)
}

// MACAddr returns the parsed MAC of the host
func (h Host) MACAddr() (net.HardwareAddr, error) {
	return net.ParseMAC(h.MAC)
}

func (h Host) String() string {
	return fmt.Sprintf("%v (%v %v dpid=%d port=%d)", h.Name, h.IP, h.MAC, h.Dpid, h.Port)
}

// Mapping is the topology description the strategies work from:
// protected hosts plus the sandbox proxies parked on each edge switch.
type Mapping struct {
	Hosts   []Host `json:"hosts" yaml:"hosts"`
	Proxies []Host `json:"proxies" yaml:"proxies"`
}

// HostByIP looks up a host by IP address
func (m *Mapping) HostByIP(ip string) (Host, bool) {
	for _, h := range m.Hosts {
		if h.IP == ip {
			return h, true
		}
	}
	return Host{}, false
}

// HostByMAC looks up a host by MAC address
func (m *Mapping) HostByMAC(mac string) (Host, bool) {
	for _, h := range m.Hosts {
		if h.MAC == mac {
			return h, true
		}
	}
	return Host{}, false
}

// ProxyForDpid returns the first sandbox proxy attached to the given
// edge switch.
func (m *Mapping) ProxyForDpid(dpid uint64) (Host, bool) {
	for _, p := range m.Proxies {
		if p.Dpid == dpid {
			return p, true
		}
	}
	return Host{}, false
}

// ProxyByIP looks up a proxy by IP address
func (m *Mapping) ProxyByIP(ip string) (Host, bool) {
	for _, p := range m.Proxies {
		if p.IP == ip {
			return p, true
		}
	}
	return Host{}, false
}

// LoadMapping reads a mapping from a YAML or JSON file
func LoadMapping(path string) (*Mapping, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Mapping
	// yaml is a superset of json, so this handles both file types
	err = yaml.Unmarshal(b, &m)
	if err != nil {
		return nil, fmt.Errorf("Error parsing mapping %v: %v", path, err)
	}

	return &m, nil
}

// SaveMapping writes a mapping to a YAML file
func SaveMapping(path string, m *Mapping) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// WatchMapping watches the mapping file and calls update with the new
// mapping whenever it changes on disk. It blocks until done is closed.
func WatchMapping(path string, update func(*Mapping), done chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// watch the directory so editor rename-and-replace is seen
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			m, err := LoadMapping(path)
			if err != nil {
				log.Println("Mapping reload error: ", err)
				continue
			}
			update(m)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Println("Mapping watch error: ", err)
		case <-done:
			return nil
		}
	}
}
