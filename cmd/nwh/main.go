package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	nwh "github.com/notwithouthelp/client-go"
)

// Config holds the process environment of the CLI.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
	// DotenvErr is the error from loading .env, reported once logging is
	// set up.
	DotenvErr error
}

// DefaultConfig returns a Config bound to the real process.
func DefaultConfig() Config {
	return Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getenv: os.Getenv,
	}
}

// app carries the global flags shared by every command.
type app struct {
	cfg      Config
	apiURL   string
	origin   string
	logLevel string
	timeout  time.Duration
	password string
	logger   log.Logger
}

func run(args []string, cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(cfg)
	root.SetArgs(args[1:])
	root.SetIn(cfg.Stdin)
	root.SetOut(cfg.Stdout)
	root.SetErr(cfg.Stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(cfg Config) *cobra.Command {
	a := &app{cfg: cfg}

	root := &cobra.Command{
		Use:           "nwh",
		Short:         "Client for notwithout.help anonymous intake forms",
		Long:          "nwh publishes intake forms, submits to them and reads submissions. Every payload is encrypted on this machine; the server never sees plaintext.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.apiURL, "api-url", envOr(cfg, "NWH_API_URL", "https://api.notwithout.help"), "API base URL (env NWH_API_URL)")
	flags.StringVar(&a.origin, "origin", envOr(cfg, "NWH_ORIGIN", "https://notwithout.help"), "web app origin used in printed links (env NWH_ORIGIN)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error or none")
	flags.DurationVar(&a.timeout, "timeout", 30*time.Second, "per-request timeout")
	flags.StringVar(&a.password, "password", "", "password of a protected secret link (env NWH_PASSWORD)")

	root.AddCommand(
		a.publishCmd(),
		a.submitCmd(),
		a.submissionsCmd(),
		a.keysCmd(),
		a.protectCmd(),
		a.deriveCmd(),
		a.respondChallengeCmd(),
	)
	return root
}

func envOr(cfg Config, key, fallback string) string {
	if v := cfg.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (a *app) setup() error {
	if a.password == "" {
		a.password = a.cfg.Getenv("NWH_PASSWORD")
	}

	var allow level.Option
	switch strings.ToLower(a.logLevel) {
	case "debug":
		allow = level.AllowDebug()
	case "info":
		allow = level.AllowInfo()
	case "warn":
		allow = level.AllowWarn()
	case "error":
		allow = level.AllowError()
	case "none":
		allow = level.AllowNone()
	default:
		return fmt.Errorf("unknown log level %q", a.logLevel)
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(a.cfg.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	a.logger = level.NewFilter(logger, allow)

	if a.cfg.DotenvErr != nil {
		level.Debug(a.logger).Log("msg", "ignoring .env", "err", a.cfg.DotenvErr)
	}
	return nil
}

// loadDotenv loads .env files into the environment without overriding
// variables that are already set. Only a missing file is ignored.
func loadDotenv(filenames ...string) error {
	err := godotenv.Load(filenames...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (a *app) newClient() (*nwh.Client, error) {
	return nwh.New(
		nwh.WithBaseURL(a.apiURL),
		nwh.WithOrigin(a.origin),
		nwh.WithTimeout(a.timeout),
		nwh.WithLogger(a.logger),
	)
}

// openSession opens a secret link and unlocks it when it is protected.
func (a *app) openSession(ctx context.Context, client *nwh.Client, secretLink string) (*nwh.Session, error) {
	s, err := client.OpenSecretLink(secretLink)
	if err != nil {
		return nil, err
	}
	protected, err := s.IsProtected(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	if protected {
		if a.password == "" {
			s.Close()
			return nil, fmt.Errorf("%w: pass --password or set NWH_PASSWORD", nwh.ErrPasswordRequired)
		}
		if err := s.Unlock(ctx, a.password); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (a *app) printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
