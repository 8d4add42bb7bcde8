package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/vine/pkg/store"
)

var validateCmd = &cobra.Command{
	Use:   "validate [chains.yaml]",
	Short: "Validate a chain definition file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chains, err := store.LoadFile(args[0])
		if err != nil {
			return err
		}

		list, err := chains.ListChains(cmd.Context(), 0, 0)
		if err != nil {
			return err
		}
		for _, chain := range list {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d steps\n", chain.ID, len(chain.Steps))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d chain(s) valid\n", len(list))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
