package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

func newPropsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "props",
		Short: "Read and write raw properties",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a property value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			value, ok, err := store.Property(cmd.Context(), namespace, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("property %s is not set in namespace %q", args[0], namespace)
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a property value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			return store.SetProperty(cmd.Context(), namespace, args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a property",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			return store.DeleteProperty(cmd.Context(), namespace, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every property in the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			props, err := store.Properties(cmd.Context(), namespace)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(props))
			for key := range props {
				keys = append(keys, key)
			}
			slices.Sort(keys)
			for _, key := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", key, props[key])
			}
			return nil
		},
	})

	return cmd
}
