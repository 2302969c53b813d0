// Command someipd runs a single SOME/IP runtime instance: it loads a JSON
// configuration document, starts the instance's runtime (its SD sockets),
// and blocks until asked to stop. It does not offer the instance's
// providing services or create its required clients.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"someipd/logging"
	"someipd/reactor"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath   = flag.String("config", "someipd.json", "Path to configuration file")
	instanceName = flag.String("instance", "default", "Instance name to run, as named in the configuration's instances map")
	logDebug     = flag.String("log-debug", "", "Enable debug logging to debug.log, optionally filtered to one component")
	showVersion  = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("someipd %s\n", Version)
		os.Exit(0)
	}

	logger := logging.Logger(logging.NopLogger{})
	var debugLogger *logging.DebugLogger
	if *logDebug != "" {
		var err error
		debugLogger, err = logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open debug log: %v\n", err)
		} else {
			filter := *logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			debugLogger.SetFilter(filter)
			logger = debugLogger
		}
	}

	rt, err := reactor.New(*configPath, *instanceName, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting runtime: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("someipd: instance %q running, config %s\n", *instanceName, *configPath)
	fmt.Println("Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Printf("\nReceived %v, shutting down...\n", sig)

	stopped := make(chan struct{})
	go func() {
		rt.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		fmt.Fprintln(os.Stderr, "Warning: shutdown timed out")
	}

	if debugLogger != nil {
		if err := debugLogger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: closing debug log: %v\n", err)
		}
	}
	fmt.Println("Stopped")
}
