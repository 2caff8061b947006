// Command copilot-chat is an interactive chat with the GitHub Copilot CLI.
//
// It starts copilot in stdio server mode, opens one session and relays each
// line typed on stdin as a prompt. Models copilot does not offer are routed to
// the configured fallback provider (iFlow by default).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// interruptExitCode is the conventional exit status after Ctrl+C.
const interruptExitCode = 130

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(interruptExitCode)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &chatOptions{policy: newPolicyValue()}

	cmd := &cobra.Command{
		Use:           "copilot-chat",
		Short:         "Chat with Copilot",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.timeoutSet = cmd.Flags().Changed("timeout")
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.model, "model", "m", "", "Model ID to use")
	flags.BoolVarP(&opts.listModels, "list-models", "l", false, "List available models and exit")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 0, "Timeout per response (default from config, 5m0s)")
	flags.StringVar(&opts.configPath, "config", "", "Config file (default ~/.copilot-chat/config.yaml)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging and mirror protocol frames to a log file")
	flags.Var(opts.policy, "model-policy", `What to do with models copilot does not offer: "strict" or "fallback"`)
	flags.BoolVar(&opts.clearLogs, "clear-logs", false, "Remove copilot-chat log files and exit")
	flags.BoolVar(&opts.initConfig, "init-config", false, "Write the default config file and exit")
	cmd.MarkFlagsMutuallyExclusive("clear-logs", "init-config")

	return cmd
}
