package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/akua-anchor/pkg/canonical"
)

func newHashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [file|-]",
		Short: "Print the canonical JSON and SHA-256 of a JSON document",
		Args:  cobra.MaximumNArgs(1),
		// hash needs no environment.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			doc, err := canonical.Decode(data)
			if err != nil {
				return fmt.Errorf("parse json: %w", err)
			}
			canonicalJSON, err := canonical.CanonicalJSON(doc)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n%s\n", canonicalJSON, canonical.HashCanonical(canonicalJSON))
			return nil
		},
	}
}
