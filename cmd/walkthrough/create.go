package main

import (
	"delorean_back/client"
	"github.com/spf13/cobra"
)

func newCreateCmd(root *rootOptions) *cobra.Command {
	var (
		contexts []string
		narrate  bool
	)
	cmd := &cobra.Command{
		Use:   "create PHOTO...",
		Short: "Upload photos, generate their stories and walk the new tunnel",
		Args:  cobra.RangeArgs(1, 20),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]client.File, 0, len(args))
			for _, path := range args {
				f, err := client.ReadFile(path)
				if err != nil {
					return err
				}
				files = append(files, f)
			}

			c := root.newClient()
			defer c.Wait()
			walk, err := c.CreateWalkthrough(cmd.Context(), files, contexts, narrate)
			if err != nil {
				return err
			}
			for _, a := range walk.Assets {
				cmd.Printf("%02d %s\n   %s\n", a.Order, a.Context, a.Story.Text)
			}
			return root.walk(cmd.Context(), walk)
		},
	}
	cmd.Flags().StringArrayVar(&contexts, "context", nil, "context for each photo, in argument order (repeatable)")
	cmd.Flags().BoolVar(&narrate, "narrate", false, "also narrate each story")
	return cmd
}
