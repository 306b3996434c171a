// Package main is the entry point for the bulk-mailer command.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/bulk-mailer-lite/internal/config"
	"github.com/shineum/bulk-mailer-lite/internal/logging"
)

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitUsage   = 2
	exitPartial = 3
)

const usage = `Usage: bulk-mailer [-config file.yaml] [-env-file .env] <command> [flags]

Commands:
  send       send a template to every address of a recipient list
  validate   check a recipient list without sending
  templates  list, show, save, import or delete stored templates
  history    print the most recent delivered recipients
  serve      run the HTTP API
  relay      run a local SMTP capture relay

Run "bulk-mailer <command> -h" for command flags.
`

var (
	errUsage = errors.New("usage error")

	// errPartial reports a run in which some recipients failed.
	errPartial = errors.New("some recipients failed")
)

// app carries what every command needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	// server commands log to stdout, the others to stderr so their output
	// stays readable
	server bool
	run    func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"send":      {run: runSend},
	"validate":  {run: runValidate},
	"templates": {run: runTemplates},
	"history":   {run: runHistory},
	"serve":     {server: true, run: runServe},
	"relay":     {server: true, run: runRelay},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bulk-mailer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "path to YAML configuration file (optional)")
	envFile := fs.String("env-file", ".env", "dotenv file read before the environment (optional)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", fs.Arg(0), usage)
		return exitUsage
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "error: failed to load configuration:", err)
		return exitError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}

	logOut := stderr
	if cmd.server {
		logOut = stdout
	}
	logger, flush := logging.New(logging.Config{
		Level:             cfg.Logging.Level,
		SentryDSN:         cfg.Sentry.DSN,
		SentryEnvironment: cfg.Sentry.Environment,
		Output:            logOut,
	})
	defer flush()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, logger: logger, stdin: stdin, stdout: stdout, stderr: stderr}
	err = cmd.run(ctx, a, fs.Args()[1:])
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		if err != errUsage {
			fmt.Fprintln(stderr, "error:", err)
		}
		return exitUsage
	case errors.Is(err, errPartial):
		fmt.Fprintln(stderr, "error:", err)
		return exitPartial
	default:
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// newFlagSet returns a flag set that reports parse errors as errUsage.
func newFlagSet(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	return nil
}
