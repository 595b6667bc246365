package main

import "github.com/spf13/cobra"

func newOpenCmd(root *rootOptions) *cobra.Command {
	var tunnelID string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Walk an existing tunnel session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			walk, err := root.newClient().CommitTunnel(cmd.Context(), tunnelID)
			if err != nil {
				return err
			}
			return root.walk(cmd.Context(), walk)
		},
	}
	cmd.Flags().StringVar(&tunnelID, "tunnel", "", "tunnel session id")
	_ = cmd.MarkFlagRequired("tunnel")
	return cmd
}
