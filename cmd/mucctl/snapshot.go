package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/epw80/muc-history/pkg/codec"
	"github.com/epw80/muc-history/pkg/history"
	"github.com/epw80/muc-history/pkg/snapshot"
	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and move room snapshots",
	}

	cmd.AddCommand(newSnapshotInspectCmd())
	cmd.AddCommand(newSnapshotListCmd())
	cmd.AddCommand(newSnapshotExportCmd())
	cmd.AddCommand(newSnapshotImportCmd())
	return cmd
}

func newSnapshotInspectCmd() *cobra.Command {
	var diag bool

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Verify a snapshot file and summarize the room state it holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), data, diag)
		},
	}

	cmd.Flags().BoolVar(&diag, "diag", false, "Also print the state in CBOR diagnostic notation")
	return cmd
}

func inspect(w io.Writer, data []byte, diag bool) error {
	env, err := snapshot.Inspect(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "room:        %s\n", env.Room)
	fmt.Fprintf(w, "version:     %d\n", env.Version)
	fmt.Fprintf(w, "compression: %s\n", env.Compression)
	fmt.Fprintf(w, "size:        %d bytes (%d stored)\n", env.Size, len(env.Payload))
	fmt.Fprintf(w, "checksum:    %s\n", hex.EncodeToString(env.Checksum[:]))

	snap, err := snapshot.Open(data)
	if err != nil {
		return err
	}

	strategy, err := history.Unmarshal(snap.State, history.Deps{})
	if err != nil {
		return err
	}

	depth := 0
	for s := strategy; s != nil; s = s.Parent() {
		label := "state"
		if depth > 0 {
			label = "parent"
		}
		fmt.Fprintf(w, "%s%s: policy=%s bound=%d retained=%d subject=%t\n",
			strings.Repeat("  ", depth), label, s.Policy(), s.Bound(), s.Len(), s.HasPinnedSubject())
		depth++
	}

	if diag {
		notation, err := codec.Diagnose(snap.State)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, notation)
	}
	return nil
}

func newSnapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rooms with a stored snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rooms, err := store.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			slices.Sort(rooms)
			for _, room := range rooms {
				fmt.Fprintln(cmd.OutOrStdout(), room)
			}
			return nil
		},
	}
}

func newSnapshotExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <room>",
		Short: "Write a room's stored snapshot to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			data, err := store.LoadSnapshot(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("room %s: %w", args[0], err)
			}

			if output == "" {
				output = args[0] + ".snapshot"
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, len(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <room>.snapshot)")
	return cmd
}

func newSnapshotImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Verify a snapshot file and store it under its room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			snap, err := snapshot.Open(data)
			if err != nil {
				return err
			}
			if _, err := history.Unmarshal(snap.State, history.Deps{}); err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SaveSnapshot(cmd.Context(), snap.Room, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored snapshot for room %s\n", snap.Room)
			return nil
		},
	}
}
