// Fieldlink - field device gateway
//
// Polls channels on a remote device and republishes values via REST API,
// MQTT, Valkey, and Kafka.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldlink/api"
	"fieldlink/channel"
	"fieldlink/config"
	"fieldlink/driver"
	"fieldlink/kafka"
	"fieldlink/logging"
	"fieldlink/mqtt"
	"fieldlink/simdev"
	"fieldlink/valkey"
)

// Version is set at build time via -ldflags
var Version = "dev"

// preprocessLogDebugFlag handles --log-debug without a value by injecting
// "all" as the default, so `--log-debug` alone enables all component logging.
func preprocessLogDebugFlag() {
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--log-debug" || arg == "-log-debug" {
			if i+1 >= len(args) || (len(args[i+1]) > 0 && args[i+1][0] == '-') {
				os.Args = append(os.Args[:i+2], append([]string{"all"}, os.Args[i+2:]...)...)
			}
			return
		}
		if len(arg) > 11 && (arg[:12] == "--log-debug=" || arg[:11] == "-log-debug=") {
			return
		}
	}
}

// Command line flags
var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	namespace   = flag.String("namespace", "", "Set namespace (saved to config)")
	httpPort    = flag.Int("p", 0, "HTTP listen port (overrides config)")
	httpHost    = flag.String("host", "", "HTTP bind address (overrides config)")
	logFile     = flag.String("log", "", "Path to log file (optional)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging to debug.log")
)

func main() {
	preprocessLogDebugFlag()

	flag.Parse()

	if *showVersion {
		fmt.Printf("fieldlink %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Handle --namespace flag: overwrite config and save
	if *namespace != "" {
		cfg.Namespace = *namespace
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Namespace set to '%s' and saved to config\n", *namespace)
	}

	// Override web config from flags (in memory only)
	if *httpPort != 0 {
		cfg.Web.Port = *httpPort
	}
	if *httpHost != "" {
		cfg.Web.Host = *httpHost
	}

	if !cfg.Device.Simulate {
		fmt.Fprintf(os.Stderr, "Error: no hardware backend is built in; set device.simulate: true\n")
		os.Exit(1)
	}

	run(cfg)
}

func run(cfg *config.Config) {
	// Set up file logging if specified
	var fileLogger *logging.FileLogger
	if *logFile != "" {
		var err error
		fileLogger, err = logging.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open log file: %v\n", err)
		}
	}

	// Set up debug logging if specified
	var debugLogger *logging.DebugLogger
	if *logDebug != "" {
		var err error
		debugLogger, err = logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		} else {
			filter := *logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			debugLogger.SetFilter(filter)
			logging.SetGlobalDebugLogger(debugLogger)
		}
	}

	// Simulated device backend
	dev := simdev.NewDevice()
	dev.SetJitter(true)
	dialer := simdev.NewDialer()

	drv := driver.New(dialer, dev.Factory())
	if err := drv.Activate(cfg.Device.Properties()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cache := api.NewCache()

	// Start enabled republishers
	var listeners []channel.Listener
	listeners = append(listeners, cache)

	var mqttPubs []*mqtt.Publisher
	for i := range cfg.MQTT {
		mc := &cfg.MQTT[i]
		if !mc.Enabled {
			continue
		}
		pub := mqtt.NewPublisher(mc, cfg.Namespace)
		pub.SetWriteHandler(makeWriteHandler(cfg, drv))
		if err := pub.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: MQTT publisher %s: %v\n", pub.Name(), err)
			continue
		}
		mqttPubs = append(mqttPubs, pub)
		listeners = append(listeners, pub)
	}

	var valkeyPubs []*valkey.Publisher
	for i := range cfg.Valkey {
		vc := &cfg.Valkey[i]
		if !vc.Enabled {
			continue
		}
		pub := valkey.NewPublisher(vc, cfg.Namespace)
		if err := pub.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Valkey publisher %s: %v\n", pub.Name(), err)
			continue
		}
		valkeyPubs = append(valkeyPubs, pub)
		listeners = append(listeners, pub)
	}

	var kafkaProds []*kafka.Producer
	for i := range cfg.Kafka {
		kc := &cfg.Kafka[i]
		if !kc.Enabled {
			continue
		}
		prod := kafka.NewProducer(kc, cfg.Namespace)
		if err := prod.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Kafka producer %s: %v\n", prod.Name(), err)
			continue
		}
		kafkaProds = append(kafkaProds, prod)
		listeners = append(listeners, prod)
	}

	// Register every listener against every enabled channel
	for _, ch := range cfg.EnabledChannels() {
		props := ch.Properties()
		for _, l := range listeners {
			if err := drv.RegisterChannelListener(props, l); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: channel %s: %v\n", ch.Name, err)
				break
			}
		}
	}

	notifier := driver.NewNotifier(drv, cfg.PollRate)
	notifier.Start()

	var server *api.Server
	if cfg.Web.Enabled {
		server = api.NewServer(cfg, drv, cache)
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to start web server on port %d: %v\n", cfg.Web.Port, err)
			server = nil
		} else {
			fmt.Printf("REST API at http://%s:%d/api/\n", cfg.Web.Host, cfg.Web.Port)
		}
	}

	fmt.Printf("Polling %d channel(s) every %v. Press Ctrl+C to stop.\n",
		len(cfg.EnabledChannels()), cfg.PollRate)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Printf("\nReceived %v, shutting down...\n", sig)

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		notifier.Stop()
		for _, pub := range mqttPubs {
			pub.Stop()
		}
		for _, pub := range valkeyPubs {
			pub.Stop()
		}
		for _, prod := range kafkaProds {
			prod.Stop()
		}
		if server != nil {
			server.Stop()
		}
		drv.Deactivate()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
	}

	if fileLogger != nil {
		fileLogger.Close()
	}
	if debugLogger != nil {
		debugLogger.Close()
	}

	fmt.Println("Stopped")
}

// makeWriteHandler adapts incoming broker write requests into driver writes,
// enforcing the channel's writable flag and declared type.
func makeWriteHandler(cfg *config.Config, drv *driver.Driver) mqtt.WriteHandler {
	return func(channelName string, value interface{}) error {
		ch := cfg.FindChannel(channelName)
		if ch == nil {
			return fmt.Errorf("unknown channel %q", channelName)
		}
		if !ch.Writable {
			return fmt.Errorf("channel %q is not writable", channelName)
		}
		t, err := ch.DataType()
		if err != nil {
			return err
		}
		tv, err := channel.CoerceValue(t, value)
		if err != nil {
			return err
		}
		rec := channel.NewWriteRecord(channelName, tv)
		if err := drv.Write([]*channel.Record{rec}); err != nil {
			return err
		}
		if !rec.Succeeded() {
			if rec.Status.Cause != nil {
				return rec.Status.Cause
			}
			return errors.New(rec.Status.Message)
		}
		return nil
	}
}
