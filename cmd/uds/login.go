package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Check a password and print a login token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			au, err := a.authenticator(ctx)
			if err != nil {
				return err
			}
			defer au.Close()
			if password == "" {
				if password, err = readLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			token, _, err := au.Login(ctx, args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password; read from stdin when empty")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a login token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			au, err := a.authenticator(ctx)
			if err != nil {
				return err
			}
			defer au.Close()
			u, claims, err := au.Verify(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s expires %s\n", u.Username(), u.ID(), claims.ExpiresAt.Time.Format("2006-01-02 15:04:05Z07:00"))
			return nil
		},
	}
}
