package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/isometry/dirsync/internal/engine"
	"github.com/isometry/dirsync/internal/identity"
)

func newGroupsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups <domain> <username>",
		Short: "Expand a user's transitive directory group membership",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, dns, err := expandForUser(cmd, root, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"groups": dns})
		},
	}
	return cmd
}

func newDeltaCmd(root *rootOptions) *cobra.Command {
	var current string

	cmd := &cobra.Command{
		Use:   "delta <domain> <username>",
		Short: "Compute the local group changes the directory implies",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, dns, err := expandForUser(cmd, root, args[0], args[1])
			if err != nil {
				return err
			}

			var currentGroups []string
			if current != "" {
				for _, g := range strings.Split(current, ",") {
					if g = strings.TrimSpace(g); g != "" {
						currentGroups = append(currentGroups, g)
					}
				}
			}

			delta := policy.Mapping.ComputeDelta(dns, currentGroups)
			return printJSON(cmd, map[string]any{
				"groups": dns,
				"add":    delta.ToAdd,
				"remove": delta.ToRemove,
			})
		},
	}

	cmd.Flags().StringVar(&current, "current", "", "comma-separated current local group ids")

	return cmd
}

// expandForUser resolves the user without authenticating and runs the
// domain's configured group expansion.
func expandForUser(cmd *cobra.Command, root *rootOptions, domain, username string) (*engine.GroupPolicy, []string, error) {
	resolver, store, err := root.resolver()
	if err != nil {
		return nil, nil, err
	}

	policy, err := store.GroupPolicy(domain)
	if err != nil {
		return nil, nil, err
	}

	id, err := resolver.Resolve(cmd.Context(), domain, username, "", false)
	if err != nil {
		return nil, nil, err
	}
	defer id.Close()

	var keys []string
	if policy.Orientation == engine.OrientationForward && policy.MemberAttr != "" {
		keys = []string{policy.MemberAttr}
	}
	attrs, err := id.Attributes(cmd.Context(), keys, identity.FetchOptions{})
	if err != nil {
		return nil, nil, err
	}

	dns, err := engine.ExpandGroups(cmd.Context(), id, policy, attrs, root.logger())
	if err != nil {
		return nil, nil, err
	}
	return policy, dns, nil
}
