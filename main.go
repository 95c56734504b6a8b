package main

import (
	"context"
	"dworekgo/broadcast"
	"dworekgo/core"
	"dworekgo/database"
	"dworekgo/eventlogger"
	"dworekgo/handler"
	"dworekgo/live"
	"dworekgo/processor"
	"dworekgo/session"
	"fmt"
	"github.com/apex/log"
	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

var mainLog *log.Entry

func init() {
	log.SetHandler(core.Log)
	log.SetLevel(log.DebugLevel)
	mainLog = log.WithFields(log.Fields{
		"name":    "Main",
		"modName": "Main",
	})
}

func main() {
	pflag.Usage = func() {
		fmt.Printf(
			`Usage:    labserver [options]... [CONFIG_FILE]

      labserver is the real-time server of the Dworek lab game.
      By default it looks for a configuration file in the current
      working directory as labserver.yml.  A different config file path
      can be specified as a positional argument.

      -h, --help      Print this help dialog.
      -v, --version   Print version information.
      -L, --log       Specify a file to write log messages to.
      -l, --loglevel  Specify the minimum log level that should be logged;
                        Error and Fatal levels will always be logged.
`)
		os.Exit(1)
	}

	logfilePtr := pflag.StringP("log", "L", "", "Specify the file to write log messages to.")
	loglevelPtr := pflag.StringP("loglevel", "l", "debug", "Specify minimum log level that should be logged.")
	versionPtr := pflag.BoolP("version", "v", false, "Show the application version.")
	helpPtr := pflag.BoolP("help", "h", false, "Show the application usage.")

	pflag.Parse()

	if *helpPtr {
		pflag.Usage()
		os.Exit(1)
	}
	if *versionPtr {
		fmt.Printf(`
Real-time server of the Dworek lab game, written in Go.

Revision: %s
`, versioninfo.Revision)
		os.Exit(1)
	}
	if *loglevelPtr != "" {
		loglevelChoices := map[string]log.Level{"info": log.InfoLevel, "warning": log.WarnLevel, "error": log.ErrorLevel, "fatal": log.FatalLevel, "debug": log.DebugLevel}
		if choice, validChoice := loglevelChoices[*loglevelPtr]; !validChoice {
			mainLog.Fatal(fmt.Sprintf("Unknown log-level \"%s\".", *loglevelPtr))
			pflag.Usage()
			os.Exit(1)
		} else {
			log.SetLevel(choice)
		}
	}
	if *logfilePtr != "" {
		logfile, err := os.OpenFile(*logfilePtr, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			mainLog.Fatal(fmt.Sprintf("Failed to open log file \"%s\".", *logfilePtr))
			os.Exit(1)
		}
		logfile.Truncate(0)
		logfile.Seek(0, 0)

		defer logfile.Sync()
		defer logfile.Close()

		handler := core.NewMultiHandler(core.Log, core.NewLogger(logfile))
		log.SetHandler(handler)
	}

	var configPath, configName string
	args := pflag.Args()
	if len(args) > 0 {
		configName = filepath.Base(args[0])
		configName = strings.TrimSuffix(configName, path.Ext(configName))
		configPath = filepath.Dir(args[0])
	} else {
		configName = "labserver"
		configPath = "."
	}

	mainLog.Info("Loading configuration file...")

	config, err := core.LoadConfig(configPath, configName)
	if err != nil {
		mainLog.Fatal(err.Error())
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := database.Open(startCtx, config)
	if err != nil {
		mainLog.Fatalf("Unable to open the %s backend: %s", config.Backend.Type, err)
	}

	cache, err := session.NewCache(startCtx, config)
	if err != nil {
		mainLog.Fatal(err.Error())
	}
	validator := session.NewValidator(store, cache, config)

	events, err := eventlogger.New(config.Eventlogger.Output)
	if err != nil {
		mainLog.Fatal(err.Error())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	proc := processor.New(config, processor.NewMetrics(registry))
	if config.Server.Metrics_Path != "" {
		proc.Handle(config.Server.Metrics_Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	games := live.NewRegistry(store, config, events)
	handlers := handler.New(proc, validator, broadcast.NewQueue(), games, store, events)
	if err := handlers.Register(); err != nil {
		mainLog.Fatal(err.Error())
	}

	if err := proc.Listen(); err != nil {
		mainLog.Fatalf("Unable to listen on %s: %s", config.Server.Bind, err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	sig := <-c
	mainLog.Infof("Got %s signal. Shutting down...", sig)

	if err := proc.Shutdown(); err != nil {
		mainLog.Errorf("Error while closing connections: %s", err)
	}
	games.Close()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := store.Close(closeCtx); err != nil {
		mainLog.Errorf("Error while closing the backend: %s", err)
	}
	events.Close()
}
