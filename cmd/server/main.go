// Package main is the entry point for the patchbay API server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/james-see/patchbay/pkg/api"
	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/config"
	"github.com/james-see/patchbay/pkg/engine"
	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Config file (default is the OS config dir)")
	port := flag.Int("port", 0, "Server port (default from config)")
	flag.Parse()

	if err := run(*configPath, *port); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, port int) error {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, _, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.API.Port = port
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	poll, err := cfg.PollInterval()
	if err != nil {
		return err
	}
	log := logrus.New()
	log.SetLevel(level)

	drv, err := midi.NewDriver()
	if err != nil {
		log.WithError(err).Warn("running without MIDI hardware")
		drv = midi.NewLoopback("Patchbay Loopback")
	}
	e, err := engine.New(engine.Options{
		SampleRate:     cfg.Audio.SampleRate,
		BPM:            cfg.Transport.BPM,
		TimeSignature:  transport.TimeSignature(cfg.Transport.TimeSignature),
		Driver:         drv,
		PollInterval:   poll,
		FuzzyThreshold: cfg.MIDI.FuzzyThreshold,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	defer e.Dispose()
	engine.SetCurrent(e)

	sink, err := audio.OpenSink(e.AudioContext(), 0)
	if err != nil {
		log.WithError(err).Warn("no audio output, rendering silently")
		sink = audio.NewClockSink(e.AudioContext(), 0)
	}
	if err := sink.Start(); err != nil {
		return err
	}
	defer sink.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting patchbay API server on port %d...\n", cfg.API.Port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", cfg.API.Port)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Run(ctx) })
	g.Go(func() error { return api.StartServer(ctx, e, cfg.API.Port) })
	return g.Wait()
}
