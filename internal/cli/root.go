// Package cli is the glamour command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"glamour-studio/internal/prompt"
)

// RunnerFactory builds the runner once flags are parsed, so commands that do
// not call the API never need credentials.
type RunnerFactory func(cmd *cobra.Command) (*Runner, error)

func NewRootCommand(newRunner RunnerFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "glamour",
		Short:         "80s glamour shots from your photos",
		Long:          `glamour turns a portrait into an 80s glamour shot, remixes it and can animate the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newShotCommand(newRunner), newBackdropsCommand())
	return root
}

func newShotCommand(newRunner RunnerFactory) *cobra.Command {
	var opts ShotOptions

	cmd := &cobra.Command{
		Use:   "shot <image>",
		Short: "Generate a glamour shot from an image",
		Long: `Generate a glamour shot from an image, apply each --remix in order and
optionally animate the final image with --video.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ImagePath = args[0]

			runner, err := newRunner(cmd)
			if err != nil {
				return err
			}
			if runner.Out == nil {
				runner.Out = cmd.OutOrStdout()
			}

			res, err := runner.Shot(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Done: %d turns\n", res.Turns)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Note, "note", "", "extra styling wish for the first shot")
	cmd.Flags().StringArrayVar(&opts.Remixes, "remix", nil, "follow-up instruction, repeat for several")
	cmd.Flags().StringVar(&opts.Video, "video", "", "animate the final image with this motion prompt")
	cmd.Flags().StringVar(&opts.Backdrop, "backdrop", "", "backdrop preset, list them with the backdrops command")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", ".", "output directory")

	return cmd
}

func newBackdropsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backdrops",
		Short: "List backdrop presets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, b := range prompt.Backdrops() {
				marker := " "
				if b.Key == prompt.DefaultBackdrop {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-8s %s\n", marker, b.Key, b.Name)
			}
		},
	}
}
