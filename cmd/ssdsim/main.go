// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// ssdsim is a discrete-event simulator of an erasure-coded object storage
// data center's aging and garbage-collection behavior. It samples a
// synthetic object workload, packs and stripes it under a configurable
// placement/erasure-coding policy, and runs one of several GC strategies
// against the resulting stripes, reporting the read/write/parity cost of
// keeping the data center's obsolete fraction under control.
//
// Project structure is following:
//
// - internal/config contains the simulator's configuration surface, shared
// by every package below.
//
// - internal/sim contains one package per simulated component (objects,
// extents, stripes, extent stacks, packers, stripers, GC strategies, the
// striping-process coordinator and the top-level data center driver).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/asch/ssdsim/internal/config"
	"github.com/asch/ssdsim/internal/sim/datacenter"
)

// Parse configuration from file, flags and environment variables, build the
// data center the configuration describes, and run it for the configured
// simulated time. Prints a cost summary on completion or on early
// interruption by SIGINT/SIGTERM.
func main() {
	if err := config.Configure(); err != nil {
		log.Panic().Err(err).Send()
	}

	loggerSetup(config.Cfg.Log.Pretty, config.Cfg.Log.Level)

	dc, err := datacenter.New(config.Cfg)
	if err != nil {
		log.Panic().Err(err).Send()
	}

	ctx, cancel := context.WithCancel(context.Background())
	registerSigHandlers(cancel)

	log.Info().
		Float64("time", config.Cfg.Sim.Time).
		Str("gc_strategy", config.Cfg.GC.Strategy).
		Str("extent_stack", config.Cfg.ExtentStack.Variant).
		Msg("starting simulation")

	dc.Run(ctx, config.Cfg.Sim.Time)

	fmt.Print(dc.Metrics.Summary())
	defaultPct, alternativePct := dc.Coordinator.ProportionOfStripers()
	fmt.Printf("%-28s %.2f%% default, %.2f%% alternative\n", "replacement cost models:", defaultPct, alternativePct)
	log.Info().Msg("simulation complete")
}

// registerSigHandlers cancels ctx on SIGINT or SIGTERM, letting Run flush
// its pools and return instead of being killed mid-tick.
func registerSigHandlers(cancel context.CancelFunc) {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	signal.Notify(stopChan, syscall.SIGTERM)
	go func() {
		<-stopChan
		log.Info().Msg("received interrupt, finishing current tick and stopping")
		cancel()
	}()
}

func loggerSetup(pretty bool, level int) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(zerolog.Level(level))
}
