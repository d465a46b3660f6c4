package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/maruel/uds/internal/backend"
	"github.com/maruel/uds/internal/journal"
	"github.com/maruel/uds/internal/uds"
	"github.com/spf13/cobra"
)

func (a *app) userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(
		a.userAddCmd(),
		a.userListCmd(),
		a.userShowCmd(),
		a.userSetCmd(),
		a.userUnsetCmd(),
		a.userRmCmd(),
	)
	return cmd
}

func (a *app) userAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <username> [field=value...]",
		Short: "Create a user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			existing, err := s.FindUsers(ctx, backend.Document{uds.FieldUsername: args[0]})
			if err != nil {
				return err
			}
			if len(existing) != 0 {
				return fmt.Errorf("user %q already exists", args[0])
			}
			u := s.CreateUser()
			if err := u.Set(uds.FieldUsername, args[0]); err != nil {
				return err
			}
			if err := setAssignments(u, args[1:]); err != nil {
				return err
			}
			out, err := u.Commit(ctx)
			if err != nil {
				return err
			}
			a.log.InfoContext(ctx, "Created user", "username", args[0], "id", out.ID)
			fmt.Fprintln(cmd.OutOrStdout(), out.ID)
			return nil
		},
	}
}

func (a *app) userListCmd() *cobra.Command {
	var where []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			sel, err := parseSelector(where)
			if err != nil {
				return err
			}
			users, err := s.FindUsers(ctx, sel)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\n", u.ID(), u.Username())
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&where, "where", nil, "Filter on field=value; may be repeated")
	return cmd
}

func (a *app) userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <username>",
		Short: "Print a user document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := a.findUser(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u.Document())
		},
	}
}

func (a *app) userSetCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "set <username> field=value...",
		Short: "Set fields of a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := a.findUser(ctx, args[0])
			if err != nil {
				return err
			}
			if err := setAssignments(u, args[1:]); err != nil {
				return err
			}
			return a.commit(ctx, cmd.OutOrStdout(), u, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the patch instead of writing it")
	return cmd
}

func (a *app) userUnsetCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "unset <username> field...",
		Short: "Remove fields of a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := a.findUser(ctx, args[0])
			if err != nil {
				return err
			}
			for _, field := range args[1:] {
				if err := u.Delete(field); err != nil {
					return err
				}
			}
			return a.commit(ctx, cmd.OutOrStdout(), u, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the patch instead of writing it")
	return cmd
}

func (a *app) userRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <username>",
		Short: "Delete a user and its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := a.findUser(ctx, args[0])
			if err != nil {
				return err
			}
			n, err := a.store.DeleteAll(ctx, uds.TableCredentials, backend.Document{uds.FieldUsername: args[0]})
			if err != nil {
				return err
			}
			if _, err := a.store.DestroyUser(ctx, u); err != nil {
				return err
			}
			a.log.InfoContext(ctx, "Deleted user", "username", args[0], "credentials", n)
			return nil
		},
	}
}

// findUser returns the user named username.
func (a *app) findUser(ctx context.Context, username string) (*uds.User, error) {
	s, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.FindUsers(ctx, backend.Document{uds.FieldUsername: username})
	if err != nil {
		return nil, err
	}
	switch len(users) {
	case 0:
		return nil, fmt.Errorf("user %q not found", username)
	case 1:
		return users[0], nil
	default:
		return nil, fmt.Errorf("%d users are named %q", len(users), username)
	}
}

// commit writes r, or prints its patch when dryRun is set.
func (a *app) commit(ctx context.Context, w io.Writer, r uds.Record, dryRun bool) error {
	if dryRun {
		v, err := r.Journal(journal.Patch())
		if err != nil {
			return err
		}
		return printJSON(w, v.Fields)
	}
	out, err := r.Commit(ctx)
	if err != nil {
		return err
	}
	if out.Count == 0 {
		return fmt.Errorf("%s %s was modified concurrently", r.Table(), r.ID())
	}
	return nil
}

// setAssignments applies field=value arguments to r.
func setAssignments(r uds.Record, args []string) error {
	for _, arg := range args {
		field, value, err := parseAssignment(arg)
		if err != nil {
			return err
		}
		if err := r.Set(field, value); err != nil {
			return err
		}
	}
	return nil
}

// parseAssignment splits field=value. The value is decoded as JSON when it
// is valid JSON, and kept as a string otherwise.
func parseAssignment(arg string) (string, any, error) {
	field, raw, ok := strings.Cut(arg, "=")
	if !ok || field == "" {
		return "", nil, fmt.Errorf("expected field=value, got %q", arg)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return field, raw, nil
	}
	return field, v, nil
}

func parseSelector(args []string) (backend.Document, error) {
	sel := backend.Document{}
	for _, arg := range args {
		field, value, err := parseAssignment(arg)
		if err != nil {
			return nil, err
		}
		sel[field] = value
	}
	return sel, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
