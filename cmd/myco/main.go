package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/run"

	"github.com/mycobarrier/mycobarrier/api"
	"github.com/mycobarrier/mycobarrier/data"
	"github.com/mycobarrier/mycobarrier/experiment"
	"github.com/mycobarrier/mycobarrier/nats"
	"github.com/mycobarrier/mycobarrier/server"
)

// goreleaser will replace version with Git version. You can also pass
// version into the go build:
//   go build -ldflags="-X main.version=1.2.3"
var version = "Development"

func main() {
	// global options
	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagVersion := flags.Bool("version", false, "Print app version")
	flags.Usage = func() {
		fmt.Println("usage: myco [OPTION]... COMMAND [OPTION]...")
		fmt.Println("Global options:")
		flags.PrintDefaults()
		fmt.Println()
		fmt.Println("Available commands:")
		fmt.Println("  - serve (start the myco controller)")
		fmt.Println("  - experiment (run a mitigation sweep against a simulated topology)")
		fmt.Println("  - verify (check mitigation artifacts on a running controller)")
		fmt.Println("  - log (log myco bus messages)")
	}

	flags.Parse(os.Args[1:])

	if *flagVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	log.Printf("myco %v\n", version)

	// extract sub command and its arguments
	args := flags.Args()

	if len(args) < 1 {
		// run serve command by default
		args = []string{"serve"}
	}

	switch args[0] {
	case "serve":
		if err := runServe(args[1:], version); err != nil {
			log.Println("myco stopped, reason: ", err)
		}
	case "experiment":
		if err := runExperiment(args[1:]); err != nil {
			log.Fatal("experiment failed: ", err)
		}
	case "verify":
		if err := runVerify(args[1:]); err != nil {
			log.Fatal("verify failed: ", err)
		}
	case "log":
		runLog(args[1:])
	default:
		log.Fatal("Unknown command; options: serve, experiment, verify, log")
	}
}

func runServe(args []string, version string) error {
	options, err := server.Args(args, nil)
	if err != nil {
		return err
	}

	options.AppVersion = version

	s := server.NewServer(options)

	var g run.Group

	g.Add(s.Run, s.Stop)

	g.Add(run.SignalHandler(context.Background(),
		syscall.SIGINT, syscall.SIGTERM))

	return g.Run()
}

func runExperiment(args []string) error {
	flags := flag.NewFlagSet("experiment", flag.ExitOnError)
	flagMapping := flags.String("mapping", "mapping.yaml", "topology mapping file")
	flagStrategies := flags.String("strategies", "", "comma separated strategies, default all")
	flagAttack := flags.Int("attackFrames", 100, "SYN flood volume per run")
	flagLegit := flags.Int("legitFrames", 50, "legitimate frames scored per run")
	flagDuration := flags.Duration("duration", 30*time.Second, "mitigation event duration")
	flagOut := flags.String("out", ".", "output directory for summary.csv")

	if err := flags.Parse(args); err != nil {
		return err
	}

	mapping, err := data.LoadMapping(*flagMapping)
	if err != nil {
		return fmt.Errorf("Error loading mapping %v: %w", *flagMapping, err)
	}

	var strategies []data.Strategy
	if *flagStrategies != "" {
		for _, s := range strings.Split(*flagStrategies, ",") {
			st := data.Strategy(strings.TrimSpace(s))
			if !st.Valid() {
				return fmt.Errorf("invalid strategy %q", s)
			}
			strategies = append(strategies, st)
		}
	}

	r := &experiment.Runner{
		Config: experiment.RunConfig{
			Strategies:    strategies,
			AttackFrames:  *flagAttack,
			LegitFrames:   *flagLegit,
			EventDuration: *flagDuration,
			OutputDir:     *flagOut,
		},
		Mapping: mapping,
	}

	results, err := r.Run()
	if err != nil {
		return err
	}

	for _, res := range results {
		log.Printf("EXP: %v PDR %.3f delivered %d redirected %d isolated %v verify %v\n",
			res.Strategy, res.PDR, res.Delivered, res.Redirected,
			res.AttackerIsolated, res.VerifyPassed)
	}

	return nil
}

func runVerify(args []string) error {
	flags := flag.NewFlagSet("verify", flag.ExitOnError)
	flagServer := flags.String("server", "http://localhost:8118", "control API base URL")
	flagDpid := flags.Uint64("dpid", 0, "datapath to inspect")
	flagStrategy := flags.String("strategy", "", "strategy to verify (scout, box, swap)")

	if err := flags.Parse(args); err != nil {
		return err
	}

	strategy := data.Strategy(*flagStrategy)
	if !strategy.Valid() {
		return fmt.Errorf("invalid strategy %q", *flagStrategy)
	}
	if *flagDpid == 0 {
		return fmt.Errorf("dpid required")
	}

	var flows []api.FlowView
	if err := fetchJSON(fmt.Sprintf("%v/flows?dpid=%d", *flagServer, *flagDpid), &flows); err != nil {
		return fmt.Errorf("fetching flows: %w", err)
	}
	var meters []api.MeterView
	if err := fetchJSON(fmt.Sprintf("%v/meters?dpid=%d", *flagServer, *flagDpid), &meters); err != nil {
		return fmt.Errorf("fetching meters: %w", err)
	}

	check := experiment.VerifyViews(strategy, flows, meters)
	fmt.Println(check)
	for _, d := range check.Details {
		fmt.Println("  -", d)
	}
	if !check.Passed {
		os.Exit(1)
	}
	return nil
}

func fetchJSON(url string, out interface{}) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%v returned %v", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runLog(args []string) {
	defaultNatsServer := "nats://localhost:4222"
	flags := flag.NewFlagSet("log", flag.ExitOnError)
	flagNatsServer := flags.String("natsServer", defaultNatsServer, "NATS Server")
	flagAuthToken := flags.String("token", "", "Auth token")

	if err := flags.Parse(args); err != nil {
		log.Fatal("error: ", err)
	}

	// only consider env if command line option is something different
	// that default
	natsServer := *flagNatsServer
	if natsServer == defaultNatsServer {
		natsServerE := os.Getenv("MYCO_NATS_SERVER")
		if natsServerE != "" {
			natsServer = natsServerE
		}
	}

	nc, err := nats.Connect(natsServer, *flagAuthToken)
	if err != nil {
		log.Fatal("Error connecting to NATS server: ", err)
	}

	if _, err := nats.SubscribeEvents(nc, func(ev data.Event) {
		log.Printf("event: %v %v target %v cookie 0x%x\n",
			ev.Strategy, ev.ID, ev.TargetIP, ev.Cookie)
	}); err != nil {
		log.Fatal("Error subscribing: ", err)
	}
	if _, err := nats.SubscribeQuarantine(nc, func(r data.QuarantineRecord) {
		log.Printf("quarantine: %v dpid %d verdict %v\n", r.MAC, r.Dpid, r.Verdict)
	}); err != nil {
		log.Fatal("Error subscribing: ", err)
	}
	if _, err := nats.SubscribeSamples(nc, func(s data.Sample) {
		log.Printf("sample: %v dpid %d = %.3f\n", s.Type, s.Dpid, s.Value)
	}); err != nil {
		log.Fatal("Error subscribing: ", err)
	}

	select {}
}
