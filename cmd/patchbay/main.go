// Package main is the entry point for the patchbay CLI
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/james-see/patchbay/pkg/api"
	"github.com/james-see/patchbay/pkg/audio"
	"github.com/james-see/patchbay/pkg/config"
	"github.com/james-see/patchbay/pkg/engine"
	"github.com/james-see/patchbay/pkg/export"
	"github.com/james-see/patchbay/pkg/midi"
	"github.com/james-see/patchbay/pkg/modules"
	"github.com/james-see/patchbay/pkg/transport"
	"github.com/james-see/patchbay/pkg/tui"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2/drivers"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFile string
	logLevel   string
	outputFile string
	patchFile  string
	moduleID   string
	importID   string
	division   string
	serverPort int
	duration   time.Duration
	matchOut   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patchbay",
	Short: "Modular synth engine with MIDI hardware routing",
	Long: `patchbay runs a patch of audio and MIDI modules, routes hardware
controllers into it and serves the patch over an HTTP API.

Examples:
  patchbay serve patch.json --port 8080
  patchbay render patch.json -o take.wav --duration 8s
  patchbay export-midi patch.json --module seq -o pattern.mid
  patchbay import-midi pattern.mid -o patch.json
  patchbay devices
  patchbay match "launchkey"
  patchbay tui`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve [patch.json]",
	Short: "Run the engine and start the API server",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServe,
}

var renderCmd = &cobra.Command{
	Use:   "render <patch.json>",
	Short: "Render a patch offline to a WAV file",
	Long:  `Loads the patch, starts the transport at time zero and renders --duration of audio.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var exportMIDICmd = &cobra.Command{
	Use:   "export-midi <patch.json>",
	Short: "Write a step sequencer's pattern as a MIDI file",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportMIDI,
}

var importMIDICmd = &cobra.Command{
	Use:   "import-midi <pattern.mid>",
	Short: "Quantize a MIDI file into a step sequencer",
	Long: `Reads the notes of a MIDI file onto a step grid and stores them in a
step sequencer module. With --patch the sequencer is added to (or replaces the
steps of) an existing patch.`,
	Args: cobra.ExactArgs(1),
	RunE: runImportMIDI,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List MIDI devices",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

var matchCmd = &cobra.Command{
	Use:   "match <name>",
	Short: "Fuzzy-match a device name against connected devices",
	Args:  cobra.ExactArgs(1),
	RunE:  runMatch,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Pick the controller input and output interactively",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the config file path and its contents",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default is the OS config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides the config file")

	// serve command
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Server port (default from config)")

	// render command
	renderCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .wav file path")
	renderCmd.Flags().DurationVar(&duration, "duration", 4*time.Second, "Length of the render")

	// export-midi command
	exportMIDICmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mid file path")
	exportMIDICmd.Flags().StringVarP(&moduleID, "module", "m", "", "Step sequencer id (default: first sequencer)")

	// import-midi command
	importMIDICmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output patch file path")
	importMIDICmd.Flags().StringVar(&patchFile, "patch", "", "Patch to add the sequencer to")
	importMIDICmd.Flags().StringVarP(&importID, "module", "m", "seq", "Step sequencer id")
	importMIDICmd.Flags().StringVar(&division, "division", "1/16", "Step length to quantize to")

	// match command
	matchCmd.Flags().BoolVar(&matchOut, "output", false, "Match output devices instead of inputs")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(exportMIDICmd)
	rootCmd.AddCommand(importMIDICmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(configCmd)
}

func getOutputPath(input, defaultExt string) string {
	if outputFile != "" {
		return outputFile
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + defaultExt
}

func getConfigPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return config.DefaultPath()
}

// loadConfig reads the config file, writing defaults on first run, and
// applies flag overrides.
func loadConfig() (*config.Config, string, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, "", err
	}
	cfg, _, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, "", err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if serverPort != 0 {
		cfg.API.Port = serverPort
	}
	return cfg, path, cfg.Validate()
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, nil
}

// openDriver opens the native MIDI backend, falling back to a loopback
// cable when the binary has none.
func openDriver(log logrus.FieldLogger) drivers.Driver {
	drv, err := midi.NewDriver()
	if err == nil {
		return drv
	}
	if errors.Is(err, midi.ErrNoDriver) {
		log.Warn("no native MIDI driver, using a virtual loopback cable")
	} else {
		log.WithError(err).Warn("MIDI driver failed, using a virtual loopback cable")
	}
	return midi.NewLoopback("Patchbay Loopback")
}

func newEngine(cfg *config.Config, log logrus.FieldLogger, drv drivers.Driver) (*engine.Engine, error) {
	poll, err := cfg.PollInterval()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		SampleRate:     cfg.Audio.SampleRate,
		BPM:            cfg.Transport.BPM,
		TimeSignature:  transport.TimeSignature(cfg.Transport.TimeSignature),
		Driver:         drv,
		PollInterval:   poll,
		FuzzyThreshold: cfg.MIDI.FuzzyThreshold,
		Logger:         log,
	})
}

// setup is the shared prologue of the commands that need an engine. A nil
// driver gives an engine without hardware.
func setup(withDevices bool) (*engine.Engine, *config.Config, *logrus.Logger, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	var drv drivers.Driver
	if withDevices {
		drv = openDriver(log)
	}
	e, err := newEngine(cfg, log, drv)
	if err != nil {
		return nil, nil, nil, err
	}
	return e, cfg, log, nil
}

func readPatch(path string) (engine.Serialized, error) {
	var s engine.Serialized
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if export.DetectFormatFromContent(data) != export.FormatPatch {
		return s, fmt.Errorf("%s is not a patch file", path)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

func writePatch(path string, s engine.Serialized) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func loadPatch(e *engine.Engine, path string) error {
	s, err := readPatch(path)
	if err != nil {
		return err
	}
	if err := e.Load(s); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	e, cfg, log, err := setup(true)
	if err != nil {
		return err
	}
	defer e.Dispose()
	engine.SetCurrent(e)

	if len(args) == 1 {
		if err := loadPatch(e, args[0]); err != nil {
			return err
		}
		log.WithField("patch", args[0]).Info("patch loaded")
	}

	sink, err := audio.OpenSink(e.AudioContext(), 0)
	if err != nil {
		log.WithError(err).Warn("no audio output, rendering silently")
		sink = audio.NewClockSink(e.AudioContext(), 0)
	}
	if err := sink.Start(); err != nil {
		return fmt.Errorf("start audio: %w", err)
	}
	defer sink.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting API server on port %d...\n", cfg.API.Port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", cfg.API.Port)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Run(ctx) })
	g.Go(func() error { return api.StartServer(ctx, e, cfg.API.Port) })
	return g.Wait()
}

func runRender(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := getOutputPath(input, ".wav")

	e, _, _, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Dispose()

	if err := loadPatch(e, input); err != nil {
		return err
	}
	e.Start()
	opts := export.WAVOptions{SampleRate: e.AudioContext().SampleRate(), Duration: duration}
	if err := export.WriteWAVFile(output, e, opts); err != nil {
		return err
	}

	fmt.Printf("Rendered %s -> %s (%s)\n", input, output, duration)
	return nil
}

// findSequencer returns the step sequencer with the given id, or the first
// one in the patch when id is empty.
func findSequencer(e *engine.Engine, id string) (*modules.StepSequencer, error) {
	if id != "" {
		m, err := e.FindModule(id)
		if err != nil {
			return nil, err
		}
		seq, ok := m.(*modules.StepSequencer)
		if !ok {
			return nil, fmt.Errorf("module %s is a %s, not a step sequencer", id, m.Type())
		}
		return seq, nil
	}
	for _, m := range e.Modules() {
		if seq, ok := m.(*modules.StepSequencer); ok {
			return seq, nil
		}
	}
	return nil, errors.New("patch has no step sequencer")
}

func runExportMIDI(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := getOutputPath(input, ".mid")

	e, _, _, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Dispose()

	if err := loadPatch(e, input); err != nil {
		return err
	}
	seq, err := findSequencer(e, moduleID)
	if err != nil {
		return err
	}
	conv := export.NewMIDIConverter()
	if err := conv.WriteMIDIFile(export.PatternOf(seq, e.Transport()), output); err != nil {
		return err
	}

	fmt.Printf("Exported %s (%s) -> %s\n", seq.Name(), seq.ID(), output)
	return nil
}

func runImportMIDI(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := getOutputPath(input, ".json")

	if f := export.DetectFormat(input); f != export.FormatMIDI {
		return fmt.Errorf("%s: expected a .mid file, got %s", input, f)
	}
	conv := export.NewMIDIConverter()
	p, err := conv.ParseMIDIFile(input, division)
	if err != nil {
		return err
	}

	e, _, _, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Dispose()

	if patchFile != "" {
		if err := loadPatch(e, patchFile); err != nil {
			return err
		}
	}
	if p.BPM > 0 {
		if err := e.Transport().SetBPM(p.BPM); err != nil {
			return err
		}
	}
	if p.TimeSignature != (transport.TimeSignature{}) {
		if err := e.Transport().SetTimeSignature(p.TimeSignature); err != nil {
			return err
		}
	}

	spec := engine.ModuleSpec{ID: importID, ModuleType: modules.TypeSequencer, Props: p.Props()}
	if _, err := e.FindModule(importID); err == nil {
		if _, err := e.UpdateModule(spec); err != nil {
			return err
		}
	} else {
		spec.Name = p.Name
		if _, err := e.AddModule(spec); err != nil {
			return err
		}
	}
	if err := writePatch(output, e.Serialize()); err != nil {
		return err
	}

	fmt.Printf("Imported %s (%d steps) -> %s\n", input, len(p.Steps), output)
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	e, _, _, err := setup(true)
	if err != nil {
		return err
	}
	defer e.Dispose()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tSTATE\tNAME\tID")
	for _, d := range e.Devices().Devices() {
		info := d.Info()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Type, info.State, info.Name, info.ID)
	}
	return w.Flush()
}

func runMatch(cmd *cobra.Command, args []string) error {
	e, _, _, err := setup(true)
	if err != nil {
		return err
	}
	defer e.Dispose()

	typ := midi.Input
	if matchOut {
		typ = midi.Output
	}
	res := api.Match(e.Devices(), typ, args[0], e.FuzzyThreshold())

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tNAME\tID")
	for _, c := range res.Candidates {
		fmt.Fprintf(w, "%.2f\t%s\t%s\n", c.Score, c.Name, c.ID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if res.Best == nil {
		return fmt.Errorf("no %s device matches %q above %.2f", typ, args[0], res.Threshold)
	}
	fmt.Printf("\nBest match: %s\n", res.Best.Name)
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	// keep log lines off the alt screen
	log.SetLevel(logrus.ErrorLevel)
	poll, err := cfg.PollInterval()
	if err != nil {
		return err
	}

	mgr := midi.NewManager(openDriver(log), midi.ManagerOptions{PollInterval: poll, Logger: log})
	if err := mgr.Poll(); err != nil {
		return err
	}
	return tui.Run(context.Background(), mgr, cfg, path)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n%s", path, data)
	return nil
}
