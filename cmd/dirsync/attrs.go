package main

import (
	"github.com/spf13/cobra"

	"github.com/isometry/dirsync/internal/identity"
)

func newAttrsCmd(root *rootOptions) *cobra.Command {
	var includeNulls bool

	cmd := &cobra.Command{
		Use:   "attrs <domain> <username> [attribute...]",
		Short: "Fetch directory attributes for a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, _, err := root.resolver()
			if err != nil {
				return err
			}

			id, err := resolver.Resolve(cmd.Context(), args[0], args[1], "", false)
			if err != nil {
				return err
			}
			defer id.Close()

			attrs, err := id.Attributes(cmd.Context(), args[2:], identity.FetchOptions{
				IncludeNulls: includeNulls,
			})
			if err != nil {
				return err
			}

			return printJSON(cmd, map[string]any{
				"dn":         id.DN(),
				"attributes": attrs,
			})
		},
	}

	cmd.Flags().BoolVar(&includeNulls, "include-nulls", false, "include confirmed-absent attributes")

	return cmd
}
