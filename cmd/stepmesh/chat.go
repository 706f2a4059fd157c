package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/stepmesh"
	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/stream"
)

const chatHelp = `commands:
  :resume [handle]  continue the suspended run
  :state            show step and phase of the thread
  :history          print the stored conversation
  :tools            list the available tools
  :restart          restart the tool service
  :quit             leave`

func newChatCommand(root *rootFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session on one thread; suspended runs can be resumed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			mesh, err := setup(ctx, root)
			if err != nil {
				return err
			}
			defer func() { _ = mesh.Stop(ctx) }()

			threadID := flags.threadID
			if threadID == "" {
				threadID = core.NewID()
			}
			s := &chatSession{mesh: mesh, threadID: threadID, flags: flags, out: cmd.OutOrStdout()}
			fmt.Fprintf(s.out, "thread %s\n%s\n", threadID, chatHelp)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(s.out, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == ":quit" {
					return nil
				}
				if err := s.handle(cmd, line); err != nil {
					fmt.Fprintf(s.out, "error: %v\n", err)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&flags.strategy, "strategy", "s", "", "strategy to run (react, plan-execute)")
	cmd.Flags().StringVarP(&flags.threadID, "thread", "t", "", "conversation thread id (random when empty)")
	cmd.Flags().BoolVar(&flags.noAutoResume, "no-auto-resume", false, "pause at every interrupt")
	return cmd
}

type chatSession struct {
	mesh     *stepmesh.StepMesh
	threadID string
	flags    *runFlags
	out      io.Writer
}

func (s *chatSession) handle(cmd *cobra.Command, line string) error {
	ctx := cmd.Context()
	fields := strings.Fields(line)

	switch fields[0] {
	case ":resume":
		handleID := ""
		if len(fields) > 1 {
			handleID = fields[1]
		}
		frames, err := s.mesh.Resume(ctx, s.threadID, handleID, s.flags.options(nil))
		if err != nil {
			return err
		}
		return s.print(frames)
	case ":state":
		st := s.mesh.State(s.threadID)
		fmt.Fprintf(s.out, "step %d, phase %s\n", st.Step, st.Phase)
		return nil
	case ":history":
		history, err := s.mesh.History(s.threadID)
		if err != nil {
			return err
		}
		for _, c := range history {
			fmt.Fprintf(s.out, "[%s] %s\n", c.Role, c.Text())
		}
		return nil
	case ":tools":
		fmt.Fprintln(s.out, s.mesh.Tools(ctx).Describe())
		return nil
	case ":restart":
		fmt.Fprintln(s.out, s.mesh.RestartTools(ctx).Message)
		return nil
	}

	frames, err := s.mesh.Stream(ctx, s.threadID, []core.Content{core.UserText(line)}, s.flags.options(nil))
	if err != nil {
		return err
	}
	return s.print(frames)
}

// print renders frames as plain text. Partial text is printed as it arrives.
func (s *chatSession) print(frames <-chan stream.Frame) error {
	lastNode := ""
	for f := range frames {
		switch {
		case f.IsError():
			fmt.Fprintf(s.out, "\nerror: %s\n", f.Error)
		case f.Interrupt != nil:
			fmt.Fprintf(s.out, "\n[suspended before %s, handle %s] use :resume to continue\n", f.Interrupt.Next, f.Interrupt.HandleID)
		default:
			if f.Metadata.Node != lastNode {
				fmt.Fprintf(s.out, "\n[%s #%d] ", f.Metadata.Node, f.Metadata.Step)
				lastNode = f.Metadata.Node
			}
			for _, it := range f.Chunk {
				switch it.Type {
				case stream.ItemToolUse:
					fmt.Fprintf(s.out, "\n  -> %s %s", it.Name, it.Input)
				case stream.ItemImage:
					fmt.Fprintf(s.out, "\n  <image %s>", it.MimeType)
				default:
					fmt.Fprint(s.out, it.Text)
				}
			}
		}
	}
	fmt.Fprintln(s.out)
	return nil
}
