package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/OllieMilton/pulsefeed/internal/client"
	"github.com/OllieMilton/pulsefeed/internal/client/persist"
	"github.com/OllieMilton/pulsefeed/internal/platform/logging"
)

func newWatchCmd() *cobra.Command {
	var (
		url       string
		stateFile string
		stateDB   string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the time feed from a terminal",
		Long: "Connects to a pulsefeed server's /events stream, prints each update, " +
			"and persists the last displayed state so a restart can show something " +
			"meaningful before the first event arrives.",
		Run: func(cmd *cobra.Command, args []string) {
			runWatch(url, stateFile, stateDB, logLevel)
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8080/events", "SSE endpoint to follow")
	cmd.Flags().StringVar(&stateFile, "state-file", defaultStatePath(), "JSON file for the persisted display state")
	cmd.Flags().StringVar(&stateDB, "state-db", "", "Pebble database directory for the display state (overrides --state-file)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	return cmd
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pulsefeed-state.json"
	}
	return home + "/.pulsefeed/state.json"
}

func openStore(stateFile, stateDB string) (persist.Store, error) {
	if stateDB != "" {
		return persist.OpenPebbleStore(stateDB, slog.Default())
	}
	return persist.NewFileStore(stateFile, slog.Default()), nil
}

// timeUpdate mirrors the time-update event body.
type timeUpdate struct {
	Timestamp     time.Time `json:"timestamp"`
	FormattedTime string    `json:"formatted_time"`
}

func runWatch(url, stateFile, stateDB, logLevel string) {
	logging.InitLogger(logLevel, "text", "")

	store, err := openStore(stateFile, stateDB)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer store.Close()

	clock := clockwork.NewRealClock()
	machine := client.NewMachine(client.DefaultMachineConfig, clock)

	// Show the persisted value immediately, flagged when outdated.
	if rec, ok := store.Load(); ok && rec.CurrentTime != "" {
		note := ""
		if machine.ValueStale(rec.LastUpdated) {
			note = " (outdated)"
		}
		fmt.Printf("%s%s  [cached]\n", rec.CurrentTime, note)
	}

	var statusMu sync.Mutex
	lastStatus := ""
	machine.Subscribe(func(s client.Status) {
		statusMu.Lock()
		defer statusMu.Unlock()
		if s.Text == lastStatus {
			return
		}
		lastStatus = s.Text
		fmt.Printf("-- %s\n", s.Text)
	})

	transport := client.NewSSETransport(url)
	runner := client.NewRunner(machine, transport, clock, slog.Default())
	runner.OnEvent = func(ev client.StreamEvent) {
		if ev.Name != "time-update" {
			return
		}

		var update timeUpdate
		if err := json.Unmarshal(ev.Data, &update); err != nil {
			slog.Warn("Malformed time update", "error", err)
			return
		}

		fmt.Println(update.FormattedTime)

		rec := persist.Record{
			CurrentTime: update.FormattedTime,
			LastUpdated: update.Timestamp,
			Timezone:    "UTC",
			Format:      "DD/MM/YYYY HH:MM:SS",
		}
		if err := store.Save(rec); err != nil {
			slog.Warn("Failed to persist display state", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		runner.Disconnect()
	}()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("Watcher stopped", "error", err)
		os.Exit(1)
	}
}
