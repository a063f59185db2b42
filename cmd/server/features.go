package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/deception-api/internal/audio"
)

func newFeaturesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "features <audio-file>",
		Short: "Print the mean MFCC vector of a WAV or MP3 file as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(flags); err != nil {
				return err
			}
			vec, err := audio.NewExtractor().ExtractFile(args[0])
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(vec)
		},
	}
}
