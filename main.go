// Command nfc-presence-agent watches NFC readers for tags being placed and
// lifted and publishes presence events over WebSocket and MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/dotside-studios/nfc-presence-agent/buildinfo"
	"github.com/dotside-studios/nfc-presence-agent/nfc"
)

var (
	app        = kingpin.New(buildinfo.Name, buildinfo.Description)
	configFile = app.Flag("config", "YAML configuration file.").Short('c').ExistingFile()
	logLevel   = app.Flag("log-level", "Log level (debug, info, warn, error).").String()

	run        = app.Command("run", "Poll the readers and serve presence events.").Default()
	port       = run.Flag("port", "WebSocket/HTTP port.").Short('p').Int()
	devices    = run.Flag("device", "libnfc connection string to poll, repeatable. Default: every reader found.").Short('d').Strings()
	apiSecret  = run.Flag("secret", "Secret WebSocket clients must pass as ?secret=.").String()
	noMDNS     = run.Flag("no-mdns", "Do not advertise the server over mDNS.").Bool()
	noAutostart = run.Flag("no-autostart", "Wait for a start request before polling.").Bool()
	mqttHost   = run.Flag("mqtt-host", "MQTT broker host. Empty disables MQTT.").String()

	list        = app.Command("list", "List the readers libnfc can see.")
	listVerbose = list.Flag("capabilities", "Also print each reader's supported modulations.").Bool()

	version = app.Command("version", "Print version information.")
)

func main() {
	app.Version(buildinfo.FullVersion())
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := LoadConfig(*configFile)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Log.ApplyLogging(); err != nil {
		kingpin.Fatalf("log level: %v", err)
	}

	switch command {
	case run.FullCommand():
		applyRunFlags(&cfg)
		if err := cfg.Validate(); err != nil {
			log.WithError(err).Fatal("invalid configuration")
		}
		runAgent(cfg)
	case list.FullCommand():
		listReaders(cfg, *listVerbose)
	case version.FullCommand():
		fmt.Println(buildinfo.Summary(nfc.DriverVersion()))
	default:
		kingpin.FatalUsage("Unrecognized command")
	}
}

// applyRunFlags lets command line flags override the configuration file.
func applyRunFlags(cfg *Config) {
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if len(*devices) > 0 {
		cfg.Polling.Devices = *devices
	}
	if *apiSecret != "" {
		cfg.Server.APISecret = *apiSecret
	}
	if *noMDNS {
		cfg.Server.MDNS = false
	}
	if *noAutostart {
		cfg.Polling.Autostart = false
	}
	if *mqttHost != "" {
		cfg.MQTT.Host = *mqttHost
	}
}

func runAgent(cfg Config) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent := NewAgent(cfg, nfc.NewManager())
	agent.Driver = "libnfc " + nfc.DriverVersion()

	log.WithFields(log.Fields{
		"version": buildinfo.FullVersion(),
		"driver":  agent.Driver,
		"port":    cfg.Server.Port,
	}).Info("starting " + buildinfo.DisplayName)

	if err := agent.Start(ctx); err != nil {
		log.WithError(err).Fatal("could not start agent")
	}

	<-ctx.Done()
	log.Info("shutdown requested")
	agent.Stop()
}

func listReaders(cfg Config, withCapabilities bool) {
	lifecycle := nfc.NewLifecycle(nfc.NewManager(), cfg.Polling.LifecycleConfig(), nil)
	defer lifecycle.Shutdown()

	readers, err := lifecycle.ListReaders()
	if err != nil {
		log.WithError(err).Error("no readers")
		os.Exit(1)
	}
	for _, r := range readers {
		fmt.Printf("%s\t%s\n", r.ID, r.Name)
		if r.Err != nil {
			fmt.Printf("\tcapabilities unavailable: %v\n", r.Err)
			continue
		}
		if withCapabilities {
			for _, c := range r.Capabilities {
				fmt.Printf("\t%s\n", c)
			}
		}
	}
}
