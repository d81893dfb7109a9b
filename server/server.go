// Package server assembles the myco process: embedded NATS server,
// OpenFlow controller, HTTP API, persistence, telemetry recorders and
// the resource monitor, run as one group with clean shutdown.
package server

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oklog/run"

	"github.com/mycobarrier/mycobarrier/api"
	"github.com/mycobarrier/mycobarrier/controller"
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/monitor"
	"github.com/mycobarrier/mycobarrier/nats"
	"github.com/mycobarrier/mycobarrier/natsserver"
	"github.com/mycobarrier/mycobarrier/store"
)

// ErrServerStopped is returned when the server is stopped
var ErrServerStopped = errors.New("Server stopped")

// Options used for starting the myco server
type Options struct {
	// OFAddress is the OpenFlow listen address for switches
	OFAddress string

	// HTTPAddress is the control API listen address
	HTTPAddress string

	// MappingFile is the topology mapping (YAML or JSON)
	MappingFile string

	// StoreFile is the SQLite database path
	StoreFile string

	// NatsPort for the embedded NATS server
	NatsPort int

	// NatsHTTPPort enables NATS monitoring when nonzero
	NatsHTTPPort int

	// NatsDisableServer skips the embedded server; NatsServer must
	// then point at an external one.
	NatsDisableServer bool

	// NatsServer is the bus URL when the embedded server is disabled
	NatsServer string

	// AuthToken secures the bus when set
	AuthToken string

	// EchoInterval for control latency probes
	EchoInterval time.Duration

	// AutoStrategy launches events on detection when set
	AutoStrategy data.Strategy

	// AutoDuration bounds autonomous events
	AutoDuration time.Duration

	// Threshold overrides the detection threshold when > 0
	Threshold int

	// LatencyCSV, EventCSV and MonitorCSV enable the CSV recorders
	LatencyCSV string
	EventCSV   string
	MonitorCSV string

	// Influx export settings. Empty URL disables export.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// DebugHTTP logs API requests and responses
	DebugHTTP bool

	// AppVersion is reported in logs
	AppVersion string
}

// Server represents a myco server process
type Server struct {
	options Options
	chStop  chan struct{}
}

// NewServer creates a new server
func NewServer(o Options) *Server {
	if o.OFAddress == "" {
		o.OFAddress = controller.DefaultAddress
	}
	if o.HTTPAddress == "" {
		o.HTTPAddress = ":8118"
	}
	return &Server{
		options: o,
		chStop:  make(chan struct{}),
	}
}

// Stop the server
func (s *Server) Stop(err error) {
	close(s.chStop)
}

// Run the server. Only returns when stopped or on a fatal error.
func (s *Server) Run() error {
	o := s.options

	log.Println("Starting myco server, version: ", o.AppVersion)

	mapping, err := data.LoadMapping(o.MappingFile)
	if err != nil {
		return fmt.Errorf("Error loading mapping %v: %w", o.MappingFile, err)
	}
	log.Printf("Loaded mapping: %v hosts, %v proxies\n",
		len(mapping.Hosts), len(mapping.Proxies))

	ctrl := controller.NewController(controller.Config{
		Address:      o.OFAddress,
		EchoInterval: o.EchoInterval,
		AutoStrategy: o.AutoStrategy,
		AutoDuration: o.AutoDuration,
	}, mapping)
	if o.Threshold > 0 {
		ctrl.Detector().Threshold = o.Threshold
	}

	var st *store.Store
	if o.StoreFile != "" {
		st, err = store.NewStore(o.StoreFile)
		if err != nil {
			return fmt.Errorf("Error opening store: %w", err)
		}
		defer st.Close()
	}

	var latencyCSV, eventCSV *store.CSVRecorder
	if o.LatencyCSV != "" {
		latencyCSV, err = store.NewLatencyCSV(o.LatencyCSV)
		if err != nil {
			return fmt.Errorf("Error opening latency csv: %w", err)
		}
		defer latencyCSV.Close()
	}
	if o.EventCSV != "" {
		eventCSV, err = store.NewEventCSV(o.EventCSV)
		if err != nil {
			return fmt.Errorf("Error opening event csv: %w", err)
		}
		defer eventCSV.Close()
	}

	var influx *store.Influx
	if o.InfluxURL != "" {
		cfg := store.InfluxConfig{
			URL:    o.InfluxURL,
			Token:  o.InfluxToken,
			Org:    o.InfluxOrg,
			Bucket: o.InfluxBucket,
		}
		if err := cfg.Valid(); err != nil {
			return err
		}
		influx = store.NewInflux(cfg)
		defer influx.Close()
	}

	var g run.Group

	// ====================================
	// NATS server
	// ====================================
	busURL := o.NatsServer
	if !o.NatsDisableServer {
		ns, err := natsserver.NewServer(natsserver.Options{
			Port:     o.NatsPort,
			HTTPPort: o.NatsHTTPPort,
			Auth:     o.AuthToken,
		})
		if err != nil {
			return err
		}

		g.Add(func() error {
			err := ns.Run()
			return fmt.Errorf("NATS server stopped: %v", err)
		}, func(err error) {
			ns.Stop(err)
		})

		if busURL == "" {
			busURL = fmt.Sprintf("nats://127.0.0.1:%v", o.NatsPort)
		}
	}

	nc, err := nats.Connect(busURL, o.AuthToken)
	if err != nil {
		return err
	}
	defer nc.Close()

	// ====================================
	// Telemetry wiring
	// ====================================
	ctrl.OnSample(func(sm data.Sample) {
		if latencyCSV != nil && sm.Type == data.SampleTypeRTT {
			if err := latencyCSV.WriteSample(sm); err != nil {
				log.Println("Error writing latency csv: ", err)
			}
		}
		if influx != nil {
			_ = influx.WriteSample(sm)
		}
		if err := nats.PublishSample(nc, sm); err != nil {
			log.Println("Error publishing sample: ", err)
		}
	})

	ctrl.Events().OnEvent(func(ev data.Event) {
		if st != nil {
			if err := st.SaveEvent(ev); err != nil {
				log.Println("Error saving event: ", err)
			}
		}
		if eventCSV != nil {
			if err := eventCSV.WriteEvent(ev); err != nil {
				log.Println("Error writing event csv: ", err)
			}
		}
		if influx != nil {
			_ = influx.WriteEvent(ev)
		}
		if err := nats.PublishEvent(nc, ev); err != nil {
			log.Println("Error publishing event: ", err)
		}
	})

	ctrl.Quarantine().OnRecord(func(r data.QuarantineRecord) {
		if st != nil {
			if err := st.AddQuarantine(r); err != nil {
				log.Println("Error saving quarantine record: ", err)
			}
		}
		if err := nats.PublishQuarantine(nc, r); err != nil {
			log.Println("Error publishing quarantine record: ", err)
		}
	})

	// ====================================
	// Controller
	// ====================================
	g.Add(func() error {
		return ctrl.Run()
	}, func(err error) {
		ctrl.Stop(err)
	})

	// ====================================
	// HTTP API
	// ====================================
	apiServer := &api.Server{
		Address:    o.HTTPAddress,
		Controller: ctrl,
		Store:      st,
		Debug:      o.DebugHTTP,
	}

	g.Add(func() error {
		return apiServer.Run()
	}, func(err error) {
		apiServer.Stop(err)
	})

	// ====================================
	// Mapping file watcher
	// ====================================
	watchDone := make(chan struct{})
	g.Add(func() error {
		return data.WatchMapping(o.MappingFile, func(m *data.Mapping) {
			log.Printf("Mapping reloaded: %v hosts, %v proxies\n",
				len(m.Hosts), len(m.Proxies))
			ctrl.SetMapping(m)
		}, watchDone)
	}, func(err error) {
		close(watchDone)
	})

	// ====================================
	// Resource monitor
	// ====================================
	if o.MonitorCSV != "" {
		mon, err := monitor.NewMonitor(0, o.MonitorCSV)
		if err != nil {
			return err
		}
		mon.OnSample(func(sm data.Sample) {
			if influx != nil {
				_ = influx.WriteSample(sm)
			}
			if err := nats.PublishSample(nc, sm); err != nil {
				log.Println("Error publishing monitor sample: ", err)
			}
		})

		g.Add(func() error {
			return mon.Run()
		}, func(err error) {
			mon.Stop(err)
		})
	}

	// ====================================
	// Stop handler
	// ====================================
	g.Add(func() error {
		<-s.chStop
		return ErrServerStopped
	}, func(err error) {
		// nothing to interrupt, chStop unblocks the execute above
	})

	return g.Run()
}
