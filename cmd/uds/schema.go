package main

import (
	"github.com/maruel/uds/internal/uds"
	"github.com/spf13/cobra"
)

func (a *app) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema <table>",
		Short:     "Print the JSON schema of a table",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{uds.TableUsers, uds.TableCredentials},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := uds.TableSchema(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
}
