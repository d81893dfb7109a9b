// Package api exposes the controller over HTTP: triggering and ending
// mitigation events, and read-only views of events, quarantine,
// datapaths, flow tables and meters.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mycobarrier/mycobarrier/controller"
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/store"
)

// MaxEventDuration bounds REST-triggered events
const MaxEventDuration = 120 * time.Second

// Server is the HTTP control surface
type Server struct {
	// Address to listen on
	Address string

	// Controller provides datapaths, events and quarantine
	Controller *controller.Controller

	// Store provides event and quarantine history. Optional; history
	// endpoints return empty lists without it.
	Store *store.Store

	// Debug enables request/response logging
	Debug bool

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// Addr returns the bound listen address once Run is up, or nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run starts the HTTP server and blocks until Stop is called
func (s *Server) Run() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/event", s.handleEvent)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/quarantine", s.handleQuarantine)
	mux.HandleFunc("/datapaths", s.handleDatapaths)
	mux.HandleFunc("/flows", s.handleFlows)
	mux.HandleFunc("/meters", s.handleMeters)

	var handler http.Handler = mux
	if s.Debug {
		handler = NewHTTPLogger("API: ").Handler(mux)
	}

	l, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("API: listen %v: %w", s.Address, err)
	}

	srv := &http.Server{Handler: handler}

	s.mu.Lock()
	s.listener = l
	s.server = srv
	s.mu.Unlock()

	log.Println("API: listening on ", l.Addr())

	err = srv.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down
func (s *Server) Stop(err error) {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func encode(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("API: encode response: ", err)
	}
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// EventRequest is the POST /event body
type EventRequest struct {
	Strategy  data.Strategy `json:"strategy"`
	TargetIP  string        `json:"target_ip"`
	DurationS int           `json:"duration_s"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req EventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if !req.Strategy.Valid() {
			httpError(w, http.StatusBadRequest,
				fmt.Sprintf("strategy must be one of scout, box, swap, got %q", req.Strategy))
			return
		}
		d := time.Duration(req.DurationS) * time.Second
		if d <= 0 || d > MaxEventDuration {
			httpError(w, http.StatusBadRequest,
				fmt.Sprintf("duration_s must be in (0, %v]", MaxEventDuration.Seconds()))
			return
		}

		ev, err := s.Controller.Events().Start(req.Strategy, req.TargetIP, d)
		if err != nil {
			httpError(w, http.StatusConflict, err.Error())
			return
		}
		encode(w, ev)

	case http.MethodDelete:
		ev, err := s.Controller.Events().End()
		if err != nil {
			httpError(w, http.StatusNotFound, err.Error())
			return
		}
		encode(w, ev)

	default:
		httpError(w, http.StatusMethodNotAllowed, "use POST or DELETE")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}

	events := []data.Event{}
	if s.Store != nil {
		var err error
		events, err = s.Store.Events(100)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if active := s.Controller.Events().Active(); active != nil {
		found := false
		for _, ev := range events {
			if ev.ID == active.ID {
				found = true
				break
			}
		}
		if !found {
			events = append([]data.Event{*active}, events...)
		}
	}
	encode(w, events)
}

// QuarantineView is the GET /quarantine response
type QuarantineView struct {
	Active  []string                `json:"active"`
	History []data.QuarantineRecord `json:"history"`
}

func (s *Server) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}

	view := QuarantineView{
		Active:  s.Controller.Quarantine().Active(),
		History: []data.QuarantineRecord{},
	}
	if s.Store != nil {
		history, err := s.Store.QuarantineHistory(100)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if history != nil {
			view.History = history
		}
	}
	encode(w, view)
}

// DatapathView is one entry in the GET /datapaths response
type DatapathView struct {
	Dpid     uint64            `json:"dpid"`
	MACTable map[string]uint32 `json:"macTable"`
}

func (s *Server) handleDatapaths(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}

	views := []DatapathView{}
	for _, dpid := range s.Controller.Dpids() {
		d, ok := s.Controller.Datapath(dpid)
		if !ok {
			continue
		}
		views = append(views, DatapathView{Dpid: dpid, MACTable: d.MACTable()})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Dpid < views[j].Dpid })
	encode(w, views)
}

// FlowView is one flow entry in the GET /flows response
type FlowView struct {
	Priority    uint16   `json:"priority"`
	Cookie      string   `json:"cookie"`
	IdleTimeout uint16   `json:"idleTimeout"`
	HardTimeout uint16   `json:"hardTimeout"`
	Match       string   `json:"match"`
	Actions     []string `json:"actions"`
	MeterID     uint32   `json:"meterId,omitempty"`
}

func (s *Server) dpidParam(r *http.Request) (uint64, error) {
	v := r.URL.Query().Get("dpid")
	if v == "" {
		return 0, fmt.Errorf("dpid query parameter required")
	}
	return strconv.ParseUint(v, 10, 64)
}

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}

	dpid, err := s.dpidParam(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, ok := s.Controller.Datapath(dpid)
	if !ok {
		httpError(w, http.StatusNotFound, fmt.Sprintf("dpid %d not connected", dpid))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	entries, err := d.FlowStats(ctx)
	if err != nil {
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}

	views := []FlowView{}
	for _, e := range entries {
		v := FlowView{
			Priority:    e.Priority,
			Cookie:      fmt.Sprintf("0x%x", e.Cookie),
			IdleTimeout: e.IdleTimeout,
			HardTimeout: e.HardTimeout,
			Match:       e.Match.String(),
			Actions:     []string{},
			MeterID:     e.MeterID(),
		}
		for _, a := range e.Actions() {
			v.Actions = append(v.Actions, fmt.Sprintf("%v", a))
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Priority > views[j].Priority })
	encode(w, views)
}

// MeterView is one meter in the GET /meters response
type MeterView struct {
	MeterID  uint32 `json:"meterId"`
	RateKbps uint32 `json:"rateKbps"`
	Burst    uint32 `json:"burst"`
}

func (s *Server) handleMeters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}

	dpid, err := s.dpidParam(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, ok := s.Controller.Datapath(dpid)
	if !ok {
		httpError(w, http.StatusNotFound, fmt.Sprintf("dpid %d not connected", dpid))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	entries, err := d.MeterConfigs(ctx)
	if err != nil {
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}

	views := []MeterView{}
	for _, e := range entries {
		v := MeterView{MeterID: e.MeterID}
		if len(e.Bands) > 0 {
			v.RateKbps = e.Bands[0].Rate
			v.Burst = e.Bands[0].Burst
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].MeterID < views[j].MeterID })
	encode(w, views)
}
