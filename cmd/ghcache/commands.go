package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var errViewsDisabled = errors.New("views are disabled: set views.root_path")

func newRebuildCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Refetch every allow-listed path into the cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := connect(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.proxy.Rebuild(cmd.Context()); err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %d paths\n", len(a.proxy.Paths()))
			return nil
		},
	}
}

func newRefreshViewsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-views",
		Short: "Recompute the ranked views unless another instance is already doing so",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := connect(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.views == nil {
				return errViewsDisabled
			}
			return a.views.Refresh(cmd.Context())
		},
	}
}

func newTopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "top N FIELD",
		Short:   "Print the N highest ranked records of a view",
		Example: "ghcache top 10 stars",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.Atoi(args[0]); err != nil {
				return fmt.Errorf("N must be a number: %q", args[0])
			}

			a, err := connect(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.views == nil {
				return errViewsDisabled
			}
			entries, err := a.views.TopN(cmd.Context(), "top/"+args[0]+"/"+args[1])
			if err != nil {
				return err
			}

			table := tablewriter.NewTable(cmd.OutOrStdout())
			table.Header([]string{"#", "Identity", args[1]})
			for i, e := range entries {
				value := "-"
				if e.Value != nil {
					value = strconv.FormatInt(*e.Value, 10)
				}
				if err := table.Append([]string{strconv.Itoa(i + 1), e.Identity, value}); err != nil {
					return fmt.Errorf("an error occurred while appending to the table: %w", err)
				}
			}
			if err := table.Render(); err != nil {
				return fmt.Errorf("an error occurred while rendering the table: %w", err)
			}
			return nil
		},
	}
}
