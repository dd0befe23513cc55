// Package main provides the CLI entry point for warpplayer.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/ideamans/go-l10n"

	"github.com/user/warpplayer/pkg/adapters/audiodevice"
	"github.com/user/warpplayer/pkg/adapters/consoleui"
	"github.com/user/warpplayer/pkg/adapters/filesink"
	"github.com/user/warpplayer/pkg/adapters/ggrenderer"
	"github.com/user/warpplayer/pkg/adapters/logger"
	"github.com/user/warpplayer/pkg/adapters/nullsink"
	"github.com/user/warpplayer/pkg/adapters/osfilesystem"
	"github.com/user/warpplayer/pkg/adapters/smartdecoder"
	"github.com/user/warpplayer/pkg/config"
	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/player"
	"github.com/user/warpplayer/pkg/ports"
	"github.com/user/warpplayer/pkg/summarizer"
)

// CLI defines the command-line interface.
type CLI struct {
	Path string `arg:"" help:"Media file to play (mp4, ts, y4m; - reads MPEG-TS from stdin)."`

	Config string `short:"c" type:"existingfile" help:"YAML configuration file."`

	// Decoding
	FFmpeg  string `help:"Path to ffmpeg executable."`
	HWAccel string `help:"Hardware decoder (auto, none, or an ffmpeg hwaccel name)."`

	// Output
	Audio         string `help:"Audio output (paced, wav, none)."`
	WAV           string `help:"WAV file receiving the played audio."`
	Present       string `help:"Presentation (null, y4m, png)."`
	Out           string `short:"o" help:"Output directory for presented frames."`
	SnapshotEvery *int   `help:"Save every Nth presented frame as PNG."`

	// Controls
	Seek      []string `short:"s" help:"Scripted seek as after=percent (repeatable)."`
	NoConsole bool     `help:"Disable interactive console controls."`
	Summary   string   `help:"Output playback summary to file (Markdown format)."`

	// Logging
	LogLevel string `short:"l" help:"Log level (debug, info, warn, error)."`
	Quiet    bool   `short:"q" help:"Suppress all log output."`
}

var version = "dev"

// exitError carries a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	cli := CLI{}

	parser, err := kong.New(&cli,
		kong.Name("warpplayer"),
		kong.Description(l10n.T("Play a media file with audio-synchronized video.")),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if _, err := parser.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "warpplayer: %s\n", err)
		var perr *kong.ParseError
		if errors.As(err, &perr) && perr.Context != nil {
			_ = perr.Context.PrintUsage(true)
		}
		os.Exit(1)
	}

	if err := cli.Run(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "warpplayer: %s\n", err)
		os.Exit(1)
	}
}

// Run plays the file.
func (cli *CLI) Run() error {
	cfg, err := cli.buildConfig()
	if err != nil {
		return err
	}

	var log ports.Logger
	if cli.Quiet {
		log = logger.NewNoop()
	} else {
		level := ports.ParseLogLevel(cfg.LogLevel)
		cl := logger.NewConsole(level)
		if level == ports.LevelDebug {
			cl = cl.WithElapsed()
		}
		log = cl
	}

	script, err := consoleui.ParseScript(cfg.Seeks)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Warn("Interrupted, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	fs := osfilesystem.New()
	decoders := smartdecoder.New(smartdecoder.Options{
		FFmpegPath: cfg.FFmpegPath,
		HWAccel:    cfg.HWAccel,
		QueueSize:  cfg.DecoderQueue,
	}, log)

	presenter, err := newPresenter(fs, cfg)
	if err != nil {
		return err
	}

	var console *consoleui.Console
	var controls ports.Controls
	if cfg.Console || len(script) > 0 {
		opts := consoleui.Options{
			Out:    os.Stdout,
			Script: script,
			Cancel: cancel,
			Logger: log,
		}
		if cfg.Console {
			opts.In = os.Stdin
			opts.Status = !cli.Quiet && consoleui.IsTerminal(os.Stdout)
		}
		console = consoleui.New(opts)
		controls = console
	}

	deps := player.Deps{
		FS:        fs,
		Decoders:  decoders,
		Presenter: presenter,
		Audio:     newAudioDevice(fs, cfg, log),
		Controls:  controls,
		Logger:    log,
	}

	sess, err := player.Open(ctx, cli.Path, deps, cfg.ToPlayerOptions())
	if err != nil {
		return classify(log, cli.Path, err)
	}
	defer sess.Close()

	res, runErr := sess.Run(ctx)
	if console != nil {
		console.Finish()
	}

	if cfg.Summary != "" {
		summary := buildSummary(cli.Path, cfg, res, decoders)
		writer := summarizer.NewWriter(fs, summarizer.NewMarkdownFormatter(
			summarizer.WithTranslator(func(key string) string { return l10n.T(key) }),
			summarizer.WithVersion(version),
		))
		if err := writer.Write(cfg.Summary, summary); err != nil {
			log.Warn("Failed to write summary: %s", err)
		} else {
			log.Info("Summary saved to %s", cfg.Summary)
		}
	}

	if runErr != nil {
		return classify(log, cli.Path, runErr)
	}
	return nil
}

// buildConfig loads the configuration file and applies flag overrides.
func (cli *CLI) buildConfig() (config.Config, error) {
	cfg := config.Defaults()
	if cli.Config != "" {
		loaded, err := config.LoadFromFile(cli.Config)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	if cli.FFmpeg != "" {
		cfg.FFmpegPath = cli.FFmpeg
	}
	if cli.HWAccel != "" {
		cfg.HWAccel = cli.HWAccel
	}
	if cli.WAV != "" {
		cfg.Audio.WAVPath = cli.WAV
		cfg.Audio.Output = config.AudioWAV
	}
	if cli.Audio != "" {
		cfg.Audio.Output = cli.Audio
	}
	if cli.Present != "" {
		cfg.Present.Mode = cli.Present
	}
	if cli.Out != "" {
		cfg.Present.Out = cli.Out
	}
	if cli.SnapshotEvery != nil {
		cfg.Present.SnapshotEvery = *cli.SnapshotEvery
	}
	if len(cli.Seek) > 0 {
		cfg.Seeks = cli.Seek
	}
	if cli.NoConsole {
		cfg.Console = false
	}
	if cli.Summary != "" {
		cfg.Summary = cli.Summary
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newPresenter(fs ports.FileSystem, cfg config.Config) (ports.Presenter, error) {
	switch cfg.Present.Mode {
	case config.PresentY4M:
		if err := fs.MkdirAll(cfg.Present.Out); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
		// Frames leave the presenter at the clock cadence.
		rate := pipeline.Rational{Num: 1000000, Den: int64(math.Round(cfg.Clock.CadenceMs * 1000))}
		return filesink.New(fs, filepath.Join(cfg.Present.Out, "presented.y4m"), rate), nil
	case config.PresentPNG:
		if err := fs.MkdirAll(cfg.Present.Out); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
		return ggrenderer.New(fs, ggrenderer.Options{
			OutDir:        cfg.Present.Out,
			SnapshotEvery: cfg.Present.SnapshotEvery,
			Overlay:       cfg.Present.Overlay,
		}), nil
	default:
		return nullsink.New(), nil
	}
}

// newAudioDevice returns nil for "none" so the audio stream is ignored.
func newAudioDevice(fs ports.FileSystem, cfg config.Config, log ports.Logger) ports.AudioDevice {
	switch cfg.Audio.Output {
	case config.AudioNone:
		return nil
	case config.AudioWAV:
		return audiodevice.NewPaced(audiodevice.PacedOptions{
			FS:      fs,
			WAVPath: cfg.Audio.WAVPath,
			Logger:  log,
		})
	default:
		return audiodevice.NewPaced(audiodevice.PacedOptions{Logger: log})
	}
}

// classify logs a fatal error and maps it to exit code 1. Cancellation
// and end of stream never reach here.
func classify(log ports.Logger, path string, err error) error {
	var (
		openErr   *pipeline.OpenError
		windowErr *pipeline.WindowError
		audioErr  *pipeline.AudioInitError
	)
	switch {
	case errors.As(err, &openErr):
		log.Error("Failed to open %s: %s", path, openErr.Err)
	case errors.As(err, &windowErr):
		log.Error("Failed to create window: %s", windowErr.Err)
	case errors.As(err, &audioErr):
		log.Error("Failed to initialize audio: %s", audioErr.Err)
	default:
		log.Error("Playback failed: %s", err)
	}
	return &exitError{code: 1, err: err}
}

func buildSummary(path string, cfg config.Config, res player.Result, decoders *smartdecoder.Factory) *summarizer.Summary {
	var size int64
	if path != "-" {
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
	}

	b := summarizer.NewBuilder().
		WithSession(res.SessionID).
		WithSource(path, res.Container, size, res.Duration).
		WithVideo(summarizer.VideoInfo{
			Codec:     string(res.Video.Codec),
			Width:     res.Video.Width,
			Height:    res.Video.Height,
			FrameRate: res.Video.FrameRate.Float(),
			Decoder:   decoders.VideoInfo().String(),
		}).
		WithPlayback(summarizer.PlaybackInfo{
			Presented:        res.Presented,
			Dropped:          res.Dropped,
			Seeks:            res.Seeks,
			FailedSeeks:      res.FailedSeeks,
			PacketErrors:     res.PacketErrors,
			Underruns:        res.Underruns,
			AudioOverflows:   res.AudioOverflows,
			DriftCorrections: res.DriftCorrections,
			LastPositionMs:   int(res.LastPosition / time.Millisecond),
			WallTimeMs:       int(res.WallTime / time.Millisecond),
			StopReason:       string(res.Stop),
		}).
		WithSettings(summarizer.Settings{
			HWAccel:         cfg.HWAccel,
			AudioOutput:     cfg.Audio.Output,
			PresentMode:     cfg.Present.Mode,
			CadenceMs:       cfg.Clock.CadenceMs,
			LateDropMs:      cfg.Clock.LateDropMs,
			DriftCorrection: cfg.Clock.DriftCorrection,
		})

	if res.Audio != nil {
		b.WithAudio(&summarizer.AudioInfo{
			Codec:      string(res.Audio.Codec),
			SampleRate: res.Audio.SampleRate,
			Channels:   res.Audio.Channels,
			Decoder:    decoders.AudioInfo().String(),
		})
	}
	return b.Build()
}
