package main

import (
	"fmt"
	"io"

	"github.com/epw80/muc-history/pkg/history"
	"github.com/epw80/muc-history/pkg/muc"
	"github.com/spf13/cobra"
)

func printSettings(w io.Writer, s *history.Strategy) {
	policy, bound := s.EffectivePolicy()
	fmt.Fprintf(w, "policy:    %s\n", s.Policy())
	fmt.Fprintf(w, "bound:     %d\n", s.Bound())
	fmt.Fprintf(w, "effective: %s (%d)\n", policy, bound)
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or change the service history defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			defaults := history.New(nil, history.Deps{Properties: store})
			if err := defaults.Bind(cmd.Context(), namespace, muc.HistoryPrefix); err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), defaults)
			return nil
		},
	}

	var (
		policyName string
		bound      int
	)

	set := &cobra.Command{
		Use:   "set",
		Short: "Change the history defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("policy") && !cmd.Flags().Changed("bound") {
				return fmt.Errorf("nothing to change: pass --policy and/or --bound")
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			defaults := history.New(nil, history.Deps{Properties: store})
			if err := defaults.Bind(cmd.Context(), namespace, muc.HistoryPrefix); err != nil {
				return err
			}

			if cmd.Flags().Changed("policy") {
				policy, ok := history.LookupPolicy(policyName)
				if !ok {
					return fmt.Errorf("unknown history policy %q", policyName)
				}
				if err := defaults.SetPolicy(cmd.Context(), policy); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("bound") {
				if err := defaults.SetBound(cmd.Context(), bound); err != nil {
					return err
				}
			}

			printSettings(cmd.OutOrStdout(), defaults)
			return nil
		},
	}
	set.Flags().StringVar(&policyName, "policy", "", "none, all or number")
	set.Flags().IntVar(&bound, "bound", history.DefaultBound, "Messages kept under the number policy")

	cmd.AddCommand(set)
	return cmd
}
