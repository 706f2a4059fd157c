package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/engine"
	"github.com/hupe1980/stepmesh/stream"
)

type runFlags struct {
	strategy     string
	threadID     string
	attachments  []string
	noAutoResume bool
}

func (f *runFlags) options(attachments []engine.Attachment) func(o *engine.RunOptions) {
	return func(o *engine.RunOptions) {
		if f.strategy != "" {
			o.Strategy = f.strategy
		}
		o.Attachments = attachments
		if f.noAutoResume {
			o.AutoResume = false
		}
	}
}

func newRunCommand(root *rootFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Run one query and print the frames as server-sent events",
		Example: `  stepmesh run --strategy plan-execute "3 더하기 4"
  stepmesh run --provider openai --model gpt-4o-mini "서울 날씨 알려줘"`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mesh, err := setup(ctx, root)
			if err != nil {
				return err
			}
			defer func() { _ = mesh.Stop(ctx) }()

			attachments, err := readAttachments(flags.attachments)
			if err != nil {
				return err
			}

			threadID := flags.threadID
			if threadID == "" {
				threadID = core.NewID()
			}

			var messages []core.Content
			if query := strings.TrimSpace(strings.Join(args, " ")); query != "" {
				messages = append(messages, core.UserText(query))
			}

			frames, err := mesh.Stream(ctx, threadID, messages, flags.options(attachments))
			if err != nil {
				return err
			}
			return stream.WriteSSE(cmd.OutOrStdout(), frames)
		},
	}

	cmd.Flags().StringVarP(&flags.strategy, "strategy", "s", "", "strategy to run (react, plan-execute)")
	cmd.Flags().StringVarP(&flags.threadID, "thread", "t", "", "conversation thread id (random when empty)")
	cmd.Flags().StringSliceVarP(&flags.attachments, "attach", "a", nil, "files to attach to the query")
	cmd.Flags().BoolVar(&flags.noAutoResume, "no-auto-resume", false, "stop at the first interrupt instead of continuing")
	return cmd
}
