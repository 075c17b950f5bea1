package main

import (
	"github.com/spf13/cobra"
)

func newResolveCmd(root *rootOptions) *cobra.Command {
	var (
		password     string
		authenticate bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <domain> <username>",
		Short: "Resolve a username to its distinguished name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, _, err := root.resolver()
			if err != nil {
				return err
			}

			id, err := resolver.Resolve(cmd.Context(), args[0], args[1], passwordFrom(password), authenticate)
			if err != nil {
				return err
			}
			defer id.Close()

			return printJSON(cmd, map[string]any{
				"domain":        id.Domain(),
				"username":      id.Username(),
				"dn":            id.DN(),
				"authenticated": authenticate,
				"attempt_id":    id.AttemptID(),
			})
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "password (or "+passwordEnv+" env)")
	cmd.Flags().BoolVarP(&authenticate, "authenticate", "a", false, "authenticate instead of lookup only")

	return cmd
}
