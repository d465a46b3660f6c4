package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/maruel/uds/internal/auth"
	"github.com/maruel/uds/internal/backend"
	"github.com/maruel/uds/internal/uds"
	"github.com/spf13/cobra"
)

func (a *app) credentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred"},
		Short:   "Manage user credentials",
	}
	cmd.AddCommand(a.credentialAddCmd(), a.credentialListCmd(), a.credentialRmCmd())
	return cmd
}

func (a *app) credentialAddCmd() *cobra.Command {
	var password, label string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a password credential; the password is read from stdin unless --password is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := a.findUser(ctx, args[0])
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = readLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			c, err := u.CreateCredential()
			if err != nil {
				return err
			}
			if err := auth.SetPassword(c, password); err != nil {
				return err
			}
			if label != "" {
				if err := c.Set("label", label); err != nil {
					return err
				}
			}
			if err := c.Set("created", time.Now().UTC().Format(time.RFC3339)); err != nil {
				return err
			}
			out, err := c.Commit(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password")
	cmd.Flags().StringVar(&label, "label", "", "Label")
	return cmd
}

func (a *app) credentialListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <username>",
		Short: "List the credentials of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := a.findUser(ctx, args[0])
			if err != nil {
				return err
			}
			creds, err := u.Credentials(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tLABEL\tLAST USED")
			for _, c := range creds {
				d := c.Document()
				fmt.Fprintf(w, "%s\t%v\t%v\t%v\n", c.ID(), field(d, "kind"), field(d, "label"), field(d, "last_used"))
			}
			return w.Flush()
		},
	}
}

func (a *app) credentialRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <username> <id>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			creds, err := s.FindCredentials(ctx, backend.Document{uds.IDField: args[1], uds.FieldUsername: args[0]})
			if err != nil {
				return err
			}
			if len(creds) == 0 {
				return fmt.Errorf("credential %s of %q not found", args[1], args[0])
			}
			_, err = s.DestroyCredential(ctx, creds[0])
			return err
		},
	}
}

func field(d backend.Document, name string) any {
	if v, ok := d[name]; ok {
		return v
	}
	return "-"
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password provided")
	}
	return line, nil
}
