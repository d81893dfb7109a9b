// Package natsserver embeds a NATS server so a single myco process
// carries its own telemetry bus.
package natsserver

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// Options for starting the nats server
type Options struct {
	// Port to listen on. -1 picks a random free port, useful in tests.
	Port int

	// HTTPPort enables the monitoring endpoint when nonzero
	HTTPPort int

	// Auth token, empty disables authorization
	Auth string
}

// Server wraps an embedded NATS server with a Run/Stop lifecycle
type Server struct {
	ns *server.Server
}

// NewServer creates the embedded server without starting it
func NewServer(o Options) (*Server, error) {
	opts := server.Options{
		Port:          o.Port,
		HTTPPort:      o.HTTPPort,
		Authorization: o.Auth,
	}

	ns, err := server.NewServer(&opts)
	if err != nil {
		return nil, fmt.Errorf("Error creating NATS server: %w", err)
	}

	return &Server{ns: ns}, nil
}

// Run starts the server and blocks until shutdown
func (s *Server) Run() error {
	s.ns.Start()
	s.ns.WaitForShutdown()
	return nil
}

// Stop shuts the server down
func (s *Server) Stop(err error) {
	s.ns.Shutdown()
}

// ClientURL returns the URL clients should connect to
func (s *Server) ClientURL() string {
	return s.ns.ClientURL()
}

// WaitReady blocks until the server accepts connections
func (s *Server) WaitReady(timeout time.Duration) error {
	if !s.ns.ReadyForConnections(timeout) {
		return fmt.Errorf("NATS server not ready after %v", timeout)
	}
	return nil
}
