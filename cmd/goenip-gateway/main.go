// goenip-gateway is a headless daemon that supervises one or more Logix
// controller connections and republishes live tag values over a read-only
// status API, MQTT, Valkey, and Kafka.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goenip/api"
	"goenip/config"
	"goenip/kafka"
	"goenip/logging"
	"goenip/mqtt"
	"goenip/supervisor"
	"goenip/valkey"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	logFile     = flag.String("log", "", "Path to log file (optional)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging. Use 'all' for all protocols, or a comma-separated filter (e.g. eip,mqtt,kafka)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("goenip-gateway %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if *logFile != "" {
		fileLogger, err := logging.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file: %v\n", err)
		} else {
			logging.SetGlobalFileLogger(fileLogger)
			defer fileLogger.Close()
		}
	}

	if *logDebug != "" {
		debugLogger, err := logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open debug log: %v\n", err)
		} else {
			filter := *logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			debugLogger.SetFilter(filter)
			logging.SetGlobalDebugLogger(debugLogger)
			defer debugLogger.Close()
		}
	}

	logging.Log("gateway starting, version=%s config=%s plcs=%d", Version, *configPath, len(cfg.PLCs))

	manager := supervisor.NewManager(cfg)
	defer manager.StopAll()

	mqttMgr := mqtt.NewManager()
	mqttMgr.LoadFromConfig(cfg.MQTT, cfg.Namespace)

	valkeyMgr := valkey.NewManager()
	valkeyMgr.LoadFromConfig(cfg.Valkey, cfg.Namespace)

	kafkaMgr := kafka.NewManager()
	for i := range cfg.Kafka {
		kc := cfg.Kafka[i]
		kafkaMgr.AddCluster(&kafka.Config{
			Name:             kc.Name,
			Enabled:          kc.Enabled,
			Brokers:          kc.Brokers,
			UseTLS:           kc.UseTLS,
			TLSSkipVerify:    kc.TLSSkipVerify,
			SASLMechanism:    kafka.SASLMechanism(kc.SASLMechanism),
			Username:         kc.Username,
			Password:         kc.Password,
			RequiredAcks:     kc.RequiredAcks,
			MaxRetries:       kc.MaxRetries,
			RetryBackoff:     kc.RetryBackoff,
			PublishChanges:   kc.PublishChanges,
			Selector:         kc.Selector,
			AutoCreateTopics: kc.AutoCreateTopics == nil || *kc.AutoCreateTopics,
			EnableWriteback:  kc.EnableWriteback,
			ConsumerGroup:    kc.ConsumerGroup,
			WriteMaxAge:      kc.WriteMaxAge,
		}, cfg.Namespace)
	}

	setupBrokerWriteHandling(manager, mqttMgr, valkeyMgr, kafkaMgr)
	setupValueFanout(manager, mqttMgr, valkeyMgr, kafkaMgr)

	plcNames := make([]string, len(cfg.PLCs))
	for i, plc := range cfg.PLCs {
		plcNames[i] = plc.Name
	}
	mqttMgr.SetPLCNames(plcNames)

	mqttStarted := mqttMgr.StartAll()
	logging.DebugLog("gateway", "started %d MQTT publisher(s)", mqttStarted)
	valkeyStarted := valkeyMgr.StartAll()
	logging.DebugLog("gateway", "started %d Valkey publisher(s)", valkeyStarted)
	kafkaMgr.ConnectEnabled()

	var httpServer *http.Server
	var apiCleanup func()
	if cfg.API.Enabled {
		router, cleanup := api.NewRouter(manager)
		apiCleanup = cleanup
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		httpServer = &http.Server{Addr: addr, Handler: router}
		go func() {
			logging.DebugLog("gateway", "status API listening on %s", addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "API server error: %v\n", err)
			}
		}()
	}

	for _, plc := range cfg.PLCs {
		if !plc.Enabled {
			continue
		}
		if err := manager.Connect(plc.Name); err != nil {
			logging.DebugLog("gateway", "failed to connect %s: %v", plc.Name, err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.DebugLog("gateway", "shutting down")
	logging.Log("gateway shutting down")

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}
	if apiCleanup != nil {
		apiCleanup()
	}
	mqttMgr.StopAll()
	valkeyMgr.StopAll()
	kafkaMgr.StopAll()
}

// setupBrokerWriteHandling wires MQTT, Valkey and Kafka tag-write requests back
// into the supervised controllers.
func setupBrokerWriteHandling(manager *supervisor.Manager, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	writeHandler := func(plcName, tagName string, value interface{}) error {
		return manager.WriteTag(plcName, tagName, value)
	}
	tagTypeLookup := func(plcName, tagName string) uint16 {
		info, err := manager.GetTagMetadata(plcName, tagName)
		if err != nil {
			return 0
		}
		return info.TypeCode
	}

	mqttMgr.SetWriteHandler(writeHandler)
	mqttMgr.SetTagTypeLookup(tagTypeLookup)
	mqttMgr.SetWriteValidator(func(plcName, tagName string) bool {
		return manager.GetPLC(plcName) != nil
	})

	valkeyMgr.SetWriteHandler(writeHandler)
	valkeyMgr.SetTagTypeLookup(tagTypeLookup)
	valkeyMgr.SetWriteValidator(func(plcName, tagName string) bool {
		return manager.GetPLC(plcName) != nil
	})

	kafkaMgr.SetWriteHandler(writeHandler)
	kafkaMgr.SetTagTypeLookup(tagTypeLookup)
	kafkaMgr.SetWriteValidator(func(plcName, tagName string) bool {
		return manager.GetPLC(plcName) != nil
	})
}

// setupValueFanout republishes every tag value change and status change
// emitted by the supervisor to the configured brokers.
func setupValueFanout(manager *supervisor.Manager, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	manager.AddOnValueChangeListener(func(c supervisor.ValueChange) {
		if c.Value == nil || c.Value.Error != nil {
			return
		}
		v := c.Value.GoValue()
		typeName := c.Value.TypeName()

		mqttMgr.Publish(c.PLCName, c.Tag, typeName, v, false)
		valkeyMgr.Publish(c.PLCName, c.Tag, c.Tag, c.Tag, typeName, v, true)
		kafkaMgr.Publish(c.PLCName, c.Tag, c.Tag, c.Tag, typeName, v, true, false)
	})

	manager.AddOnStatusChangeListener(func(name string) {
		plc := manager.GetPLC(name)
		if plc == nil {
			return
		}
		online := plc.GetStatus() == supervisor.StatusConnected
		status := plc.GetStatus().String()
		errMsg := ""
		if err := plc.GetError(); err != nil {
			errMsg = err.Error()
		}
		valkeyMgr.PublishHealth(name, "eip", online, status, errMsg)
		kafkaMgr.PublishHealth(name, "eip", online, status, errMsg)
	})
}
