package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mycobarrier/mycobarrier/data"
)

var testServerOptions = Options{
	OFAddress:   "127.0.0.1:6990",
	HTTPAddress: "127.0.0.1:8990",
	NatsPort:    4990,
}

var testMapping = &data.Mapping{
	Hosts: []data.Host{
		{Name: "srv1", Role: "server", IP: "10.0.0.1", MAC: "00:00:00:00:00:01", Dpid: 1, Port: 1},
		{Name: "h2", Role: "host", IP: "10.0.0.2", MAC: "00:00:00:00:00:02", Dpid: 1, Port: 2},
	},
	Proxies: []data.Host{
		{Name: "sandbox1", Role: "proxy", IP: "10.0.0.100", MAC: "00:00:00:00:01:00", Dpid: 1, Port: 4},
	},
}

// TestServer starts a server on fixed test ports backed by a temp
// directory, and returns its options plus a function to stop it.
func TestServer() (Options, func(), error) {
	dir, err := os.MkdirTemp("", "myco-test-server")
	if err != nil {
		return Options{}, nil, err
	}

	o := testServerOptions
	o.MappingFile = filepath.Join(dir, "mapping.yaml")
	o.StoreFile = filepath.Join(dir, "myco.sqlite")

	if err := data.SaveMapping(o.MappingFile, testMapping); err != nil {
		os.RemoveAll(dir)
		return Options{}, nil, err
	}

	s := NewServer(o)

	stopped := make(chan struct{})
	go func() {
		if err := s.Run(); err != ErrServerStopped {
			fmt.Println("Test server returned: ", err)
		}
		close(stopped)
	}()

	stop := func() {
		s.Stop(nil)
		<-stopped
		os.RemoveAll(dir)
	}

	// wait for the API to come up
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + o.HTTPAddress + "/datapaths")
		if err == nil {
			resp.Body.Close()
			return o, stop, nil
		}
		time.Sleep(10 * time.Millisecond)
	}

	stop()
	return Options{}, nil, fmt.Errorf("test server never came up on %v", o.HTTPAddress)
}
