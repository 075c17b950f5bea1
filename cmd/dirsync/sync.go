package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/isometry/dirsync/internal/engine"
	"github.com/isometry/dirsync/internal/groups"
	"github.com/isometry/dirsync/internal/identity"
)

// dryRunStore runs the full engine flow without persisting anything:
// it reports the account projection the engine would apply.
type dryRunStore struct {
	current []string
	applied *engine.User
	delta   groups.Delta
}

func (s *dryRunStore) CurrentGroups(context.Context, string, string) ([]string, error) {
	return s.current, nil
}

func (s *dryRunStore) Apply(_ context.Context, user *engine.User, delta groups.Delta) error {
	s.applied = user
	s.delta = delta
	return nil
}

func newSyncCmd(root *rootOptions) *cobra.Command {
	var (
		password string
		login    bool
	)

	cmd := &cobra.Command{
		Use:   "sync <domain> <username>",
		Short: "Run the full synchronization flow as a dry run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.store()
			if err != nil {
				return err
			}

			logger := root.logger()
			resolver := identity.NewResolver(store, identity.WithLogger(logger))
			users := &dryRunStore{}
			eng := engine.New(store, resolver, users, engine.WithLogger(logger))

			var result *engine.Result
			if login {
				result, err = eng.Login(cmd.Context(), args[0], args[1], passwordFrom(password))
			} else {
				result, err = eng.Sync(cmd.Context(), args[0], args[1])
			}
			if err != nil {
				return err
			}
			defer result.Identity.Close()

			return printJSON(cmd, map[string]any{
				"dn":         result.Identity.DN(),
				"attributes": result.Attributes,
				"groups":     result.GroupDNs,
				"add":        result.Delta.ToAdd,
				"remove":     result.Delta.ToRemove,
			})
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "password (or "+passwordEnv+" env); implies nothing unless --login")
	cmd.Flags().BoolVar(&login, "login", false, "authenticate as the user instead of proxy lookup")

	return cmd
}
