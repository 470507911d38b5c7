package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/shanehull/oantfy/internal/config"
	"github.com/shanehull/oantfy/internal/extract"
	"github.com/shanehull/oantfy/internal/gmail"
	"github.com/shanehull/oantfy/internal/history"
	"github.com/shanehull/oantfy/internal/notify"
	"github.com/shanehull/oantfy/internal/poller"
	"github.com/shanehull/oantfy/internal/types"
)

var (
	modeStr    = flag.String("mode", string(config.ModeDaemon), "(-m) One of daemon, list-labels, authorize")
	configPath = flag.String("config", "config.yml", "(-c) Path to the YAML config file")
)

func init() {
	flag.StringVar(modeStr, "m", string(config.ModeDaemon), "(-m) One of daemon, list-labels, authorize (shorthand)")
	flag.StringVar(configPath, "c", "config.yml", "(-c) Path to the YAML config file (shorthand)")

	flag.Usage = func() {
		flagSet := flag.CommandLine
		fmt.Printf("Usage of %s:\n", os.Args[0])

		order := []string{
			"mode",
			"config",
		}

		for _, name := range order {
			f := flagSet.Lookup(name)
			if f != nil {
				fmt.Printf("  -%s\n", f.Name)
				fmt.Printf("    %s (default: %s)\n", f.Usage, f.DefValue)
			}
		}
		fmt.Println("\nEvery config key can be overridden with an OANTFY_* environment variable or a .env file.")
	}
}

func main() {
	flag.Parse()
	mode := config.Mode(*modeStr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(mode); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, mode, cfg, logger)
	stop()

	if err != nil {
		logger.Error().Err(err).Str("mode", string(mode)).Msg("fatal error")
		os.Exit(1)
	}
}

func newLogger(levelStr string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func run(ctx context.Context, mode config.Mode, cfg *config.Config, logger zerolog.Logger) error {
	oauthCfg, err := gmail.LoadOAuthConfig(cfg.Gmail.CredentialsFile)
	if err != nil {
		return err
	}

	if mode == config.ModeAuthorize {
		return gmail.Authorize(ctx, oauthCfg, cfg.Gmail.TokenFile, os.Stdin, os.Stdout)
	}

	tokenSource, err := gmail.TokenSource(ctx, oauthCfg, cfg.Gmail.TokenFile, logger)
	if err != nil {
		return err
	}
	mailbox, err := gmail.New(ctx, cfg.Gmail.UserID, logger, option.WithTokenSource(tokenSource))
	if err != nil {
		return err
	}

	if mode == config.ModeListLabels {
		return listLabels(ctx, poller.New(poller.Options{}, poller.Deps{Mailbox: mailbox}, logger))
	}
	return runDaemon(ctx, cfg, mailbox, logger)
}

func listLabels(ctx context.Context, p *poller.Poller) error {
	labels, err := p.ListLabels(ctx)
	if err != nil {
		return err
	}
	for _, l := range labels {
		fmt.Printf("%s (%s)\n", l.Name, l.ID)
	}
	return nil
}

func runDaemon(ctx context.Context, cfg *config.Config, mailbox *gmail.Client, logger zerolog.Logger) error {
	matcher, err := extract.NewMatcher(cfg.PositionOpenRegex, cfg.PositionClosedRegex)
	if err != nil {
		return err
	}

	store, err := history.OpenStore(ctx, history.StoreOptions{
		Driver:   cfg.Store.Driver,
		Path:     cfg.Store.Path,
		RedisURL: cfg.Store.RedisURL,
		RedisKey: cfg.Store.RedisKey,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open delivery history: %w", err)
	}
	tracker := history.NewTracker(store, logger)
	defer tracker.Close()

	var sender poller.Sender
	if cfg.DryRun {
		logger.Warn().Msg("dry run: notifications are printed to stdout and not sent")
		sender = notify.NewConsoleSender(os.Stdout)
	} else {
		sender = notify.NewNtfySender(notify.NtfyConfig{
			Server:      cfg.Ntfy.Server,
			Topic:       cfg.Ntfy.TopicName,
			Protected:   cfg.Ntfy.ProtectedTopic,
			BearerToken: cfg.Ntfy.BearerToken,
			Timeout:     cfg.Ntfy.Timeout,
		}, logger)
	}

	p := poller.New(poller.Options{
		LabelID:  cfg.Gmail.LabelID,
		Format:   cfg.NotificationFormat,
		Interval: cfg.SleepInterval(),
	}, poller.Deps{
		Mailbox:    mailbox,
		Classifier: matcher,
		Renderer:   notify.NewRenderer(),
		Tracker:    tracker,
		Sender:     sender,
	}, logger)

	if err := checkLabel(ctx, p, cfg.Gmail.LabelID); err != nil {
		return err
	}

	err = p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("shutting down")
		return nil
	}
	return err
}

// checkLabel confirms Gmail is reachable and the configured label exists
// before the loop starts.
func checkLabel(ctx context.Context, p *poller.Poller, labelID string) error {
	labels, err := p.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("gmail connectivity check failed: %w", err)
	}
	if !hasLabel(labels, labelID) {
		return fmt.Errorf("label %q not found, run with -mode list-labels to see available labels", labelID)
	}
	return nil
}

func hasLabel(labels []types.Label, id string) bool {
	for _, l := range labels {
		if l.ID == id {
			return true
		}
	}
	return false
}
