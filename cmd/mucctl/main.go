// Command mucctl inspects and edits the offline state of a MUC history
// server: room snapshots and the history properties kept in a Badger
// store. The server must be stopped while mucctl opens its store.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/epw80/muc-history/pkg/storage"
	"github.com/spf13/cobra"
)

// Global flags.
var (
	badgerPath string
	namespace  string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mucctl",
		Short: "Operator tool for MUC room history state",
		Long: `mucctl reads and writes the history properties and room snapshots of a
MUC history server's Badger store, and decodes snapshot files exported
from the cluster state endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&badgerPath, "badger-path", "./data/properties", "Path to the Badger property store")
	root.PersistentFlags().StringVar(&namespace, "namespace", "conference", "Property namespace (MUC subdomain)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log store activity to stderr")

	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newPropsCmd())
	root.AddCommand(newHistoryCmd())

	return root
}

func openStore() (*storage.BadgerStore, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := storage.NewBadgerStore(storage.BadgerConfig{Path: badgerPath, SyncWrites: true}, logger)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", badgerPath, err)
	}
	return store, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
