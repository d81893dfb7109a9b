package server

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/mycobarrier/mycobarrier/data"
)

// Args parses common myco command line options. Defaults come from a
// .env file in the working directory (if present) and MYCO_ prefixed
// environment variables; command line flags win.
func Args(args []string, flags *flag.FlagSet) (Options, error) {
	if flags == nil {
		flags = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	}

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			return Options{}, fmt.Errorf("Error reading .env: %w", err)
		}
	}
	v.SetEnvPrefix("MYCO")
	v.AutomaticEnv()

	v.SetDefault("OF_ADDRESS", ":6653")
	v.SetDefault("HTTP_ADDRESS", ":8118")
	v.SetDefault("MAPPING", "mapping.yaml")
	v.SetDefault("STORE", "myco.sqlite")
	v.SetDefault("NATS_SERVER", "")
	v.SetDefault("NATS_PORT", 4222)
	v.SetDefault("NATS_HTTP_PORT", 0)
	v.SetDefault("AUTH_TOKEN", "")
	v.SetDefault("INFLUX_URL", "")
	v.SetDefault("INFLUX_TOKEN", "")
	v.SetDefault("INFLUX_ORG", "")
	v.SetDefault("INFLUX_BUCKET", "")

	flagOFAddress := flags.String("ofAddress", v.GetString("OF_ADDRESS"), "OpenFlow listen address")
	flagHTTPAddress := flags.String("httpAddress", v.GetString("HTTP_ADDRESS"), "control API listen address")
	flagMapping := flags.String("mapping", v.GetString("MAPPING"), "topology mapping file (YAML or JSON)")
	flagStore := flags.String("store", v.GetString("STORE"), "store file, empty disables persistence")
	flagNatsServer := flags.String("natsServer", v.GetString("NATS_SERVER"), "external NATS server URL")
	flagNatsDisableServer := flags.Bool("natsDisableServer", false, "disable embedded NATS server")
	flagNatsPort := flags.Int("natsPort", v.GetInt("NATS_PORT"), "embedded NATS server port")
	flagNatsHTTPPort := flags.Int("natsHTTPPort", v.GetInt("NATS_HTTP_PORT"), "NATS monitoring port, 0 disables")
	flagAuthToken := flags.String("token", v.GetString("AUTH_TOKEN"), "auth token for the bus")
	flagDebugHTTP := flags.Bool("debugHttp", false, "dump http requests")
	flagAutoStrategy := flags.String("autoStrategy", "", "launch this strategy on detection (scout, box, swap)")
	flagAutoDuration := flags.Duration("autoDuration", 30*time.Second, "duration of autonomous events")
	flagThreshold := flags.Int("threshold", 0, "detection threshold override, 0 keeps the default")
	flagEchoInterval := flags.Duration("echoInterval", 0, "echo probe interval, 0 keeps the default")
	flagLatencyCSV := flags.String("latencyCsv", "", "record control latency samples to this CSV file")
	flagEventCSV := flags.String("eventCsv", "", "record event starts and ends to this CSV file")
	flagMonitorCSV := flags.String("monitorCsv", "", "record CPU and RAM samples to this CSV file")

	if err := flags.Parse(args); err != nil {
		return Options{}, err
	}

	var strategy data.Strategy
	if *flagAutoStrategy != "" {
		strategy = data.Strategy(*flagAutoStrategy)
		if !strategy.Valid() {
			return Options{}, fmt.Errorf("invalid autoStrategy %q", *flagAutoStrategy)
		}
	}

	o := Options{
		OFAddress:         *flagOFAddress,
		HTTPAddress:       *flagHTTPAddress,
		MappingFile:       *flagMapping,
		StoreFile:         *flagStore,
		NatsServer:        *flagNatsServer,
		NatsDisableServer: *flagNatsDisableServer,
		NatsPort:          *flagNatsPort,
		NatsHTTPPort:      *flagNatsHTTPPort,
		AuthToken:         *flagAuthToken,
		DebugHTTP:         *flagDebugHTTP,
		AutoStrategy:      strategy,
		AutoDuration:      *flagAutoDuration,
		Threshold:         *flagThreshold,
		EchoInterval:      *flagEchoInterval,
		LatencyCSV:        *flagLatencyCSV,
		EventCSV:          *flagEventCSV,
		MonitorCSV:        *flagMonitorCSV,
		InfluxURL:         v.GetString("INFLUX_URL"),
		InfluxToken:       v.GetString("INFLUX_TOKEN"),
		InfluxOrg:         v.GetString("INFLUX_ORG"),
		InfluxBucket:      v.GetString("INFLUX_BUCKET"),
	}

	return o, nil
}
