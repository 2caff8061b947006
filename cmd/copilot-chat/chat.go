package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/zhubert/copilot-chat/cli"
	"github.com/zhubert/copilot-chat/config"
	"github.com/zhubert/copilot-chat/copilot"
	pexec "github.com/zhubert/copilot-chat/exec"
	"github.com/zhubert/copilot-chat/logger"
	"github.com/zhubert/copilot-chat/paths"
)

// chatOptions holds the parsed command line.
type chatOptions struct {
	model      string
	listModels bool
	timeout    time.Duration
	timeoutSet bool
	configPath string
	debug      bool
	clearLogs  bool
	initConfig bool
	policy     *policyValue
}

// activityColor is used for reasoning and tool notices.
var activityColor = color.New(color.FgBlue)

func runChat(ctx context.Context, opts *chatOptions, in io.Reader, out io.Writer) error {
	switch {
	case opts.clearLogs:
		n, err := logger.ClearLogs()
		if err != nil {
			return fmt.Errorf("failed to clear logs: %w", err)
		}
		fmt.Fprintf(out, "Removed %d log file(s)\n", n)
		return nil
	case opts.initConfig:
		return writeDefaultConfig(opts.configPath, out)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	if opts.debug {
		logger.SetDebug(true)
	}
	defer logger.Close()
	log := logger.Get()
	log.Info("starting copilot-chat", "config", cfg.Path())
	if opts.debug {
		fmt.Fprintf(out, "Logging to %s\n", logger.Path())
	}

	clientOpts := cfg.ClientOptions()
	clientOpts.Logger = logger.WithComponent("copilot")
	if opts.debug {
		frameLog, err := openFrameLog()
		if err != nil {
			log.Warn("frame log unavailable", "error", err)
		} else {
			defer frameLog.Close()
			clientOpts.FrameLog = frameLog
			fmt.Fprintf(out, "Mirroring protocol frames to %s\n", frameLog.Name())
		}
	}

	ex := pexec.NewRealExecutor()
	prereqs := cli.DefaultPrerequisites(copilot.ResolveCLIPath(clientOpts.CLIPath))
	if err := cli.ValidateRequired(ex, prereqs); err != nil {
		return err
	}
	if opts.debug {
		fmt.Fprint(out, cli.FormatCheckResults(cli.CheckAll(ctx, ex, prereqs)))
	}

	client := copilot.NewClient(clientOpts)
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start copilot: %w", err)
	}
	defer shutdown(client, cfg.GracePeriod.Duration, log)

	client.OnError(func(err error) {
		log.Warn("copilot error", "error", err)
	})

	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	if opts.listModels {
		printModels(out, models)
		return nil
	}

	policy, err := cfg.ResolveModelPolicy()
	if err != nil {
		return err
	}
	selection, err := copilot.ResolveModel(opts.model, models, policy)
	if err != nil {
		return err
	}
	if selection.Fallback {
		log.Info("model not offered by copilot, using fallback provider",
			"model", selection.Model, "baseURL", selection.Provider.BaseURL)
	}

	fmt.Fprintf(out, "Using model: %s\n\n", selection.Model)
	session, err := client.CreateSession(ctx, copilot.SessionConfig{
		Model:               selection.Model,
		Provider:            selection.Provider,
		OnPermissionRequest: copilot.ApproveAll,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	session.On(func(ev copilot.Event) {
		if line, ok := formatActivity(ev); ok {
			activityColor.Fprintln(out, line)
		}
	})

	fmt.Fprint(out, "Chat with Copilot (Ctrl+C to exit)\n\n")
	return chatLoop(ctx, session, opts.timeout, in, out)
}

// writeDefaultConfig writes the built-in config to path, or to the standard
// location when path is empty. An existing file is left alone.
func writeDefaultConfig(path string, out io.Writer) error {
	if path == "" {
		var err error
		if path, err = paths.ConfigFilePath(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	} else if !os.IsNotExist(err) {
		return err
	}

	cfg := config.Default()
	cfg.SetFilePath(path)
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(out, "Wrote default config to %s\n", path)
	return nil
}

// loadConfig reads the config file and applies the command line on top.
func loadConfig(opts *chatOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if opts.policy != nil && opts.policy.set {
		cfg.ModelPolicy = string(opts.policy.mode)
	}
	if !opts.timeoutSet {
		opts.timeout = cfg.Timeout.Duration
	}
	if opts.timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", opts.timeout)
	}
	return cfg, nil
}

func openFrameLog() (*os.File, error) {
	path, err := logger.FrameLogPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// chatLoop relays stdin lines as prompts until EOF or interrupt.
func chatLoop(ctx context.Context, session *copilot.Session, timeout time.Duration, in io.Reader, out io.Writer) error {
	log := logger.WithSession(session.ID())
	lines := readLines(in)
	for {
		fmt.Fprint(out, "You: ")

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nBye!")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out)
			return nil
		}

		prompt := strings.TrimSpace(line)
		if prompt == "" {
			continue
		}
		fmt.Fprintln(out)

		start := time.Now()
		reply, err := session.SendAndWait(ctx, copilot.MessageOptions{Prompt: prompt}, timeout)
		if err != nil {
			log.Warn("turn failed", "elapsed", time.Since(start), "error", err)
			if ctx.Err() != nil {
				fmt.Fprintln(out, "\nBye!")
				return nil
			}
			if errors.Is(err, copilot.ErrChannelClosed) {
				return fmt.Errorf("copilot exited: %w", err)
			}
			fmt.Fprintf(out, "\nError: %v\n\n", err)
			continue
		}
		log.Debug("turn completed", "elapsed", time.Since(start), "reply", reply.Type)
		fmt.Fprintf(out, "\nAssistant: %s\n\n", replyText(reply))
	}
}

// readLines delivers the lines of r. The channel closes at EOF. The reading
// goroutine stays blocked on r if the caller stops receiving.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// formatActivity renders the events shown between the prompt and the reply.
func formatActivity(ev copilot.Event) (string, bool) {
	switch ev.Type {
	case copilot.EventAssistantReasoning:
		return fmt.Sprintf("[reasoning: %s]", ev.Data.Content), true
	case copilot.EventToolExecutionStart:
		return fmt.Sprintf("[tool: %s]", ev.Data.ToolName), true
	default:
		return "", false
	}
}

// replyText is the content of a completed turn. A turn that went idle
// without a message has no reply.
func replyText(reply *copilot.Event) string {
	if reply == nil || reply.Type != copilot.EventAssistantMessage {
		return "(no reply)"
	}
	return reply.Data.Content
}

func printModels(out io.Writer, models []copilot.ModelInfo) {
	fmt.Fprintln(out, "Available models:")
	for _, m := range models {
		fmt.Fprintf(out, "  %s: %s\n", m.ID, m.Name)
	}
}

// shutdown stops the client, killing it if a graceful stop fails.
func shutdown(client *copilot.Client, grace time.Duration, log *slog.Logger) {
	if grace <= 0 {
		grace = copilot.DefaultGracePeriod
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*grace)
	defer cancel()

	if err := client.Stop(ctx); err != nil {
		log.Warn("graceful stop failed, killing copilot", "error", err)
		client.ForceStop()
	}
}
