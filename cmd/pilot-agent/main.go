// Command pilot-agent is the edge dispatch agent's process entry
// point: it performs the daemonization pre-flight, bootstraps the
// supervisor, installs signal handlers, and runs until told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pkbatx/edge-dispatch-agent/internal/comm"
	"github.com/pkbatx/edge-dispatch-agent/internal/config"
	"github.com/pkbatx/edge-dispatch-agent/internal/daemon"
	"github.com/pkbatx/edge-dispatch-agent/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFile    = flag.String("config", "", "path to the agent's YAML configuration document")
		pidFile       = flag.String("pid", "", "write this process's pid here, refusing to start if a live process already holds it")
		singleShot    = flag.Bool("single", false, "run every stage's Execute exactly once, then exit, instead of looping")
		hostnameFile  = flag.String("hostname_file", "", "write the local hostname here on startup")
		rotateLog     = flag.Bool("rotate_log", false, "truncate and reopen the log file named by -log before starting")
		logPath       = flag.String("log", "", "path to the agent's log file; empty means stdout")
		profileOutput = flag.String("profile_output", "", "write a CPU profile here, stopped and flushed on clean shutdown")
	)
	flag.Parse()

	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pilot-agent: open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		log.SetOutput(f)
	}

	reg, err := config.LoadRegistry(*configFile)
	if err != nil {
		log.Printf("pilot-agent: load registry: %v", err)
		return 1
	}

	dh, err := daemon.Bootstrap(daemon.Options{
		PIDFile:       *pidFile,
		HostnameFile:  *hostnameFile,
		RotateLog:     *rotateLog,
		LogPath:       *logPath,
		SingleShot:    *singleShot,
		ProfileOutput: *profileOutput,
		UName:         reg.Master.UName,
		GName:         reg.Master.GName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pilot-agent: startup pre-flight failed: %v\n", err)
		return 1
	}
	defer dh.Close()

	ctx := context.Background()
	mapper, commPool, dbPool, err := supervisor.Bootstrap(ctx, reg, []comm.Communicator{})
	if err != nil {
		log.Printf("pilot-agent: bootstrap: %v", err)
		return 1
	}

	sup := supervisor.New(reg, mapper, commPool, dbPool)
	defer sup.Close()

	if !*singleShot {
		cleanup := sup.InstallSignalHandlers()
		defer cleanup()
	}

	sup.Start(ctx, *singleShot)
	return 0
}
