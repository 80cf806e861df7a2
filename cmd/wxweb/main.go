// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/wxweb/engine"
	"github.com/bureau-foundation/wxweb/lib/config"
	"github.com/bureau-foundation/wxweb/lib/message"
	"github.com/bureau-foundation/wxweb/lib/sessionstore"
	"github.com/bureau-foundation/wxweb/lib/version"
	"github.com/bureau-foundation/wxweb/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    string
		sessionFile   string
		mediaDir      string
		acceptFriends bool
		verbose       bool
	)

	flagSet := pflag.NewFlagSet("wxweb", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to wxweb.yaml (default: $WXWEB_CONFIG, else built-in defaults)")
	flagSet.StringVar(&sessionFile, "session-file", "", "where to keep the session between runs (overrides paths.session_file)")
	flagSet.StringVar(&mediaDir, "media-dir", "", "directory for downloaded media (overrides paths.media_dir)")
	flagSet.BoolVar(&acceptFriends, "accept-friends", false, "accept incoming friend requests")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("wxweb %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("session-file") {
		cfg.Paths.SessionFile = sessionFile
	}
	if flagSet.Changed("media-dir") {
		cfg.Paths.MediaDir = mediaDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := newLogger(verbose)
	slog.SetDefault(logger)

	client, err := messaging.NewClient(messaging.ClientConfig{
		LoginURL:        cfg.Login.URL,
		AppID:           cfg.Login.AppID,
		Lang:            cfg.Login.Lang,
		UserAgent:       cfg.Transport.UserAgent,
		RequestTimeout:  cfg.Transport.RequestTimeout,
		LongPollTimeout: cfg.Transport.LongPollTimeout,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	instance, err := engine.New(engine.Config{
		Client: client,
		Retry: engine.RetryPolicy{
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
			MaxAttempts:     cfg.Retry.MaxAttempts,
		},
		LoginAttempts: cfg.Login.Attempts,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *sessionstore.File
	var snapshot *messaging.Snapshot
	if cfg.Paths.SessionFile != "" {
		store = &sessionstore.File{Path: cfg.Paths.SessionFile}
		snapshot, err = store.Load()
		if err != nil {
			logger.Warn("discarding unreadable session file", "path", store.Path, "error", err)
			if err := store.Delete(); err != nil {
				return err
			}
			snapshot = nil
		}
	}

	sub := &subscriber{
		ctx:           ctx,
		engine:        instance,
		store:         store,
		mediaDir:      cfg.Paths.MediaDir,
		acceptFriends: acceptFriends,
		output:        os.Stdout,
		styles:        newStyles(term.IsTerminal(int(os.Stdout.Fd()))),
		logger:        logger,
	}
	if cfg.History.Size > 0 {
		sub.history = message.NewHistory(cfg.History.Size)
	}
	unsubscribe := instance.Subscribe(sub.observer())
	defer unsubscribe()

	runErr := instance.Run(ctx, snapshot)
	sub.wait()
	sub.persist()

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

// newLogger logs text to a terminal and JSON otherwise.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `wxweb - WeChat web session client

Logs in by QR code (or resumes a saved session) and prints incoming
messages. Press Ctrl-C to stop; the session is saved and resumed on
the next run until it is logged out.

Usage:
  wxweb [flags]

Examples:
  # Log in with defaults
  wxweb

  # Keep media and accept friend requests
  wxweb --media-dir ~/wx-media --accept-friends

  # Use a config file
  WXWEB_CONFIG=~/.config/wxweb.yaml wxweb

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
