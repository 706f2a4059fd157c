// Command stepmesh runs react and plan-execute strategies from the terminal
// and prints their client frames as server-sent events.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	provider   string
	modelName  string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "stepmesh",
		Short:         "Run plan-and-execute and tool-calling agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&flags.provider, "provider", "", "model provider override (openai, anthropic, echo)")
	root.PersistentFlags().StringVar(&flags.modelName, "model", "", "model name override")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newRunCommand(flags),
		newChatCommand(flags),
		newToolsCommand(flags),
	)
	return root
}
