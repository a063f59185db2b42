package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/deception-api/internal/modelstore"
)

func newFetchCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download the model artifacts into the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			store, err := newStore(cfg)
			if err != nil {
				return err
			}
			b := boundedStore{store, artifactFetchTimeout}

			audioArt, textArt := artifacts(cfg)
			var errs []error
			for _, a := range []modelstore.Artifact{audioArt, textArt} {
				path, err := b.Ensure(cmd.Context(), a)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", a.Name, err))
					continue
				}
				digest, err := modelstore.FileDigest(path)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", a.Name, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tsha256:%s\n", a.Name, path, digest)
			}
			return errors.Join(errs...)
		},
	}
}
