package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tones/tones/internal/config"
	"github.com/tones/tones/internal/logging"
)

// Runner holds what every command shares and provides one method per
// command action.
type Runner struct {
	output     io.Writer
	loadConfig func(path string) (*config.Config, string, error)
	stateDir   func() (string, error)
}

// RunnerOpts overrides the Runner's collaborators; zero values pick the
// real ones.
type RunnerOpts struct {
	Output     io.Writer
	LoadConfig func(path string) (*config.Config, string, error)
	StateDir   func() (string, error)
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}
	if opts.StateDir == nil {
		opts.StateDir = logging.StateDir
	}
	return &Runner{output: opts.Output, loadConfig: opts.LoadConfig, stateDir: opts.StateDir}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		runCommand, lyricsCommand, queueCommand, doctorCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file (default: user config dir)",
	}
}

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Value: "info"},
		&cli.BoolFlag{Name: "log-stderr", Usage: "Mirror log records to stderr"},
	}
}

func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the player, restore the saved queue and serve the control API",
		Flags: append([]cli.Flag{
			configFlag(),
			&cli.BoolFlag{Name: "tui", Usage: "Show the now-playing view"},
			&cli.StringFlag{Name: "search", Usage: "Replace the queue with tracks matching this text"},
			&cli.StringFlag{Name: "album", Usage: "Replace the queue with this album"},
			&cli.StringFlag{Name: "artist", Usage: "Replace the queue with this artist's tracks"},
			&cli.StringFlag{Name: "playlist", Usage: "Replace the queue with this playlist"},
		}, logFlags()...),
		Action: r.Run,
	}
}

func lyricsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "lyrics",
		Usage: "Fetch lyrics for a song",
		Flags: append([]cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Song title", Required: true},
			&cli.StringFlag{Name: "artist", Aliases: []string{"a"}, Usage: "Artist name", Required: true},
			&cli.StringFlag{Name: "album", Usage: "Album title"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "Song length, e.g. 3m12s"},
			&cli.BoolFlag{Name: "all", Usage: "Print every provider's result"},
		}, logFlags()...),
		Action: r.Lyrics,
	}
}

func queueCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Print the saved main and automix queues",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{Name: "json", Usage: "Output as JSON"},
		},
		Action: r.Queue,
	}
}

func doctorCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "doctor",
		Usage:  "Check configuration, mpv, the state directory and the music source",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Doctor,
	}
}

func (r *Runner) writeJSON(data any) error {
	enc := json.NewEncoder(r.output)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// resolveStateDir is the configured state directory or the per-user default.
func (r *Runner) resolveStateDir(cfg *config.Config) (string, error) {
	dir, err := r.stateDir()
	if err != nil && cfg.Queue.StateDir == "" {
		return "", err
	}
	return cfg.StateDir(dir), nil
}

// openLog starts file logging in the state directory.
func (r *Runner) openLog(cmd *cli.Command, cfg *config.Config) (*slog.Logger, func(), error) {
	dir, err := r.resolveStateDir(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger, f, err := logging.Setup(logging.Options{
		Level:  cmd.String("log-level"),
		Stderr: cmd.Bool("log-stderr"),
		Dir:    dir,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, func() { f.Close() }, nil
}
