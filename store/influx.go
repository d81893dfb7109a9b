package store

import (
	"errors"
	"log"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	api "github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/mycobarrier/mycobarrier/data"
)

// InfluxConfig represents an influxdb config
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Valid reports whether the config is complete enough to connect
func (c InfluxConfig) Valid() error {
	if c.URL == "" {
		return errors.New("URL must be set for InfluxDb")
	}
	if c.Token == "" {
		return errors.New("Auth token must be set for InfluxDb")
	}
	if c.Org == "" {
		return errors.New("Org must be set for InfluxDb")
	}
	if c.Bucket == "" {
		return errors.New("Bucket must be set for InfluxDb")
	}
	return nil
}

// Influx represents an influxdb that we can write samples to
type Influx struct {
	lastChecked time.Time
	config      InfluxConfig
	client      influxdb2.Client
	writeAPI    api.WriteAPI
	queryAPI    api.QueryAPI
}

// NewInflux creates an influx helper client
func NewInflux(config InfluxConfig) *Influx {
	ret := &Influx{}
	ret.CheckConfig(config)
	return ret
}

// CheckConfig checks influx config and re-init if necessary
func (i *Influx) CheckConfig(config InfluxConfig) {
	if i.config != config {
		log.Println("Setting up new influxdb client: ", config.URL)
		if i.client != nil {
			i.client.Close()
			i.client = nil
		}

		i.client = influxdb2.NewClient(config.URL, config.Token)
		i.writeAPI = i.client.WriteAPI(config.Org, config.Bucket)
		i.queryAPI = i.client.QueryAPI(config.Org)
		i.config = config
	}

	i.lastChecked = time.Now()
}

// WriteSample writes one telemetry sample to influxdb
func (i *Influx) WriteSample(s data.Sample) error {
	p := influxdb2.NewPoint("samples",
		map[string]string{
			"type": s.Type,
			"dpid": strconv.FormatUint(s.Dpid, 10),
		},
		map[string]interface{}{
			"value": s.Value,
		},
		s.Time)
	i.writeAPI.WritePoint(p)
	return nil
}

// WriteEvent writes a mitigation event marker to influxdb
func (i *Influx) WriteEvent(ev data.Event) error {
	ended := 0
	if !ev.End.IsZero() {
		ended = 1
	}
	p := influxdb2.NewPoint("events",
		map[string]string{
			"strategy": string(ev.Strategy),
			"target":   ev.TargetIP,
		},
		map[string]interface{}{
			"cookie": int64(ev.Cookie),
			"ended":  ended,
		},
		ev.Start)
	i.writeAPI.WritePoint(p)
	return nil
}

// Close influx client
func (i *Influx) Close() {
	i.client.Close()
}
