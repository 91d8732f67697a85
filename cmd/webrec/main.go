// Package main provides the webrec CLI: it records a live browser
// session into a durable, replayable operation log with screenshots and
// HTML snapshots.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webrec/webrec/pkg/config"
	"github.com/webrec/webrec/pkg/logging"
	"github.com/webrec/webrec/pkg/recorder"
)

const version = "0.1.0"

var (
	flagConfig    string
	flagURL       string
	flagOutput    string
	flagSessionID string
	flagAuthState string
	flagHeadless  bool
	flagLogLevel  string
)

func main() {
	root := &cobra.Command{
		Use:           "webrec",
		Short:         "Record browser sessions as structured operation logs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	record := &cobra.Command{
		Use:   "record",
		Short: "Start an interactive recording session",
		Long: `Launches a browser on the given URL and records every click,
input and navigation until the browser is closed, Ctrl-C is pressed, or
an element is picked in selection mode (Ctrl/Cmd+Y in the page).`,
		RunE: runRecord,
	}
	record.Flags().StringVarP(&flagConfig, "config", "c", "", "path to YAML config file")
	record.Flags().StringVarP(&flagURL, "url", "u", "", "target URL to open (required)")
	record.Flags().StringVarP(&flagOutput, "output", "o", "", "output directory (overrides config)")
	record.Flags().StringVar(&flagSessionID, "session-id", "", "session identifier (default: generated)")
	record.Flags().StringVar(&flagAuthState, "auth-state", "", "auth_state.json from an earlier session")
	record.Flags().BoolVar(&flagHeadless, "headless", false, "run the browser headless")
	record.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	_ = record.MarkFlagRequired("url")

	root.AddCommand(record)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagOutput != "" {
		cfg.OutputDir = flagOutput
	}
	if flagAuthState != "" {
		cfg.AuthStatePath = flagAuthState
	}
	if flagHeadless {
		cfg.Headless = true
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	controller, err := recorder.NewController(log, recorder.Options{
		URL:           flagURL,
		OutputDir:     cfg.OutputDir,
		SessionID:     flagSessionID,
		AuthStatePath: cfg.AuthStatePath,
		Headless:      cfg.Headless,
		Viewport: recorder.Viewport{
			Width:  cfg.Viewport.Width,
			Height: cfg.Viewport.Height,
		},
		UserAgent:      cfg.UserAgent,
		IgnoreURLGlobs: cfg.IgnoreURLGlobs,
	})
	if err != nil {
		return err
	}

	if err := controller.Start(); err != nil {
		return err
	}
	log.Info("recording; close the browser or press Ctrl-C to stop",
		zap.String("session_id", controller.SessionID()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("stop requested, finalizing")
		controller.Stop()
		// A second signal aborts without waiting for finalization.
		<-sigCh
		os.Exit(1)
	}()

	if err := controller.Wait(); err != nil {
		return fmt.Errorf("session finished with persistence errors: %w", err)
	}
	return nil
}
