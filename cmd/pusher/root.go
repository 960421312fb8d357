package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	xpush "github.com/trickstertwo/xpush"
	"github.com/trickstertwo/xpush/internal/config"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "pusher [key=value ...]",
	Short: "Send a request or an event to a platypush-style target",
	Long: "pusher sends a request (the default) or, with the event subcommand, an event\n" +
		"to a target over the configured backend. Request responses are printed as JSON.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAction,
}

var (
	configPath  string
	envFile     string
	backendName string
	target      string
	origin      string
	debug       bool

	action         string
	timeoutSeconds float64
)

func init() {
	rootCmd.Version = Version

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Configuration file (.yaml, .yml or .toml)")
	pf.StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the configuration")
	pf.StringVarP(&backendName, "backend", "b", "", "Backend transport (overrides the configuration)")
	pf.StringVarP(&target, "target", "t", "", "Target node (overrides the configuration)")
	pf.StringVar(&origin, "origin", "", "Origin name announced to the target")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.Flags().StringVarP(&action, "action", "a", "", "Action to run on the target, e.g. calendar.ical.get_upcoming_events")
	rootCmd.Flags().Float64Var(&timeoutSeconds, "timeout", 0, "Seconds to wait for the response (0 uses the configured default)")
}

// usageError reports bad command line input.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

// session bundles what a command needs to talk to the backend.
type session struct {
	pusher *xpush.Pusher
	target string
	logger *xlog.Logger
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.pusher.Close(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("close pusher")
	}
}

// openSession loads configuration, applies flag overrides and builds the pusher.
func openSession() (*session, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if backendName != "" {
		cfg.Backend.Name = backendName
	}
	if target != "" {
		cfg.Pusher.Target = target
	}
	if origin != "" {
		cfg.Pusher.Origin = origin
	}
	if debug {
		cfg.Log.Debug = true
	}
	if cfg.Pusher.Target == "" {
		return nil, usageError{msg: "no target: pass --target or set pusher.target"}
	}
	defaultTimeout, err := cfg.DefaultTimeout()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log)

	pb := xpush.NewPusherBuilder().
		WithTransport(cfg.Backend.Name, cfg.Backend.Options).
		WithLogger(logger).
		WithOrigin(cfg.Pusher.Origin).
		WithDefaultTimeout(defaultTimeout)
	if cfg.Pusher.Group != "" {
		pb.WithGroup(cfg.Pusher.Group)
	}
	p, err := pb.Build()
	if err != nil {
		return nil, err
	}
	return &session{pusher: p, target: cfg.Pusher.Target, logger: logger}, nil
}

func newLogger(lc config.LogConfig) *xlog.Logger {
	zc := zerolog.Config{
		Console:           lc.Console,
		ConsoleTimeFormat: time.RFC3339,
		Writer:            os.Stderr,
	}
	if lc.Debug {
		zc.MinLevel = xlog.LevelDebug
		zc.Caller = true
		zc.CallerSkip = 5
	}
	return zerolog.Use(zc).With(xlog.Str("app", "pusher"))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runAction(cmd *cobra.Command, args []string) error {
	if action == "" {
		return usageError{msg: "no action: pass --action or use the event subcommand"}
	}
	if timeoutSeconds < 0 {
		return usageError{msg: "--timeout must not be negative"}
	}
	reqArgs, err := parseArgs(args, true)
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := signalContext()
	defer cancel()

	timeout := time.Duration(timeoutSeconds * float64(time.Second))
	resp, err := s.pusher.SendRequest(ctx, s.target, action, timeout, reqArgs)
	if err != nil {
		return err
	}
	out, err := resp.Serialize()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
