/*
Command cortex-chat talks to the configured backend from a terminal.

It reads the same environment variables as the server, builds a streaming
Brain with the workspace tools and prints the answer as it arrives. Tool
invocations are shown in colour. With a message argument it answers once,
without one it starts an interactive session that keeps the conversation as
history.

Usage:

	cortex-chat [-project name] [-agent=false] [message]
*/
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cortex/brain"
	"cortex/core"
	"cortex/events"
	"cortex/rules"
	"cortex/tools"
	"cortex/usage"
)

func main() {
	config := core.LoadConfig()

	project := flag.String("project", "", "Project whose rules and description apply")
	agent := flag.Bool("agent", config.AgentEnabled, "Let the model call workspace tools")
	flag.Parse()

	// Keep the terminal for the conversation unless asked otherwise
	if os.Getenv("LOG_LEVEL") == "" {
		config.LogLevel = "warn"
	}
	logger := core.InitializeLogger(config)
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, config, logger, *project, *agent, flag.Args()); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config *core.Config, logger *logrus.Logger, project string, agent bool, args []string) error {
	model, err := core.NewModel(config, logger)
	if err != nil {
		return err
	}

	dir := config.WorkspaceDir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
	}
	workspace, err := tools.NewWorkspace(dir)
	if err != nil {
		return err
	}

	// A nil store only counts
	var store usage.Store
	if config.UsageDBPath != "" {
		sqlite, err := usage.NewSQLiteStore(config.UsageDBPath)
		if err != nil {
			return fmt.Errorf("opening usage store: %w", err)
		}
		defer sqlite.Close()
		store = sqlite
	}

	tokenModel := config.TokenModel
	if tokenModel == "" {
		tokenModel = config.ModelName()
	}

	opts := []brain.Option{
		brain.WithName("cli"),
		brain.WithStreaming(),
		brain.WithTools(workspace.Tools()...),
		brain.WithMemory(config.MemoryWindow),
		brain.WithMaxIterations(config.MaxIterations),
		brain.WithStreamTimeout(config.StreamTimeout),
		brain.WithTokenRecorder(usage.NewTracker(store, tokenModel)),
		brain.WithLogger(logger.WithField("component", "brain")),
	}
	if config.RulesFile != "" {
		ruleStore, err := rules.Load(config.RulesFile)
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}
		opts = append(opts, brain.WithRules(ruleStore), brain.WithProjectInfo(ruleStore.ProjectInfo))
	}

	b, err := brain.New(core.NewCleaningLLMWrapper(model, logger.WithField("component", "llm"), config.LogTruncateLength), opts...)
	if err != nil {
		return err
	}

	c := &conversation{
		brain:   b,
		project: project,
		agent:   agent,
		limit:   config.ContextLimit,
	}

	started := time.Now()
	if len(args) > 0 {
		err = c.ask(ctx, strings.Join(args, " "))
	} else {
		err = c.repl(ctx)
	}
	if store != nil {
		printUsage(store, started)
	}
	return err
}

// conversation is one terminal session with the Brain.
type conversation struct {
	brain   *brain.Brain
	project string
	agent   bool
	limit   int
	history []brain.Exchange
}

func (c *conversation) repl(ctx context.Context) error {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	cyan.Printf("Chat with %s (Ctrl+D to exit)\n\n", c.brain.Name())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024)
	for {
		green.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.ask(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			color.Red("Error: %v\n", err)
		}
		fmt.Println()
	}
}

// ask sends prompt and prints the exchange's events until it completes.
func (c *conversation) ask(ctx context.Context, prompt string) error {
	exchangeID := uuid.NewString()
	printer := newEventPrinter(exchangeID)

	sub := c.brain.Subscribe(printer.handle)
	defer c.brain.Unsubscribe(sub)

	c.brain.Generate(ctx, brain.Request{
		ID:           exchangeID,
		Project:      c.project,
		Prompt:       prompt,
		History:      c.recent(),
		AgentEnabled: c.agent,
	})

	select {
	case result := <-printer.done:
		if result.err != nil {
			return result.err
		}
		query := prompt
		c.history = append(c.history, brain.Exchange{Query: &query, Answer: result.answer})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conversation) recent() []brain.Exchange {
	if c.limit >= 0 && len(c.history) > c.limit {
		return c.history[len(c.history)-c.limit:]
	}
	return c.history
}

type outcome struct {
	answer string
	err    error
}

// eventPrinter writes the events of one exchange to the terminal. It runs on
// the Brain's goroutine.
type eventPrinter struct {
	exchangeID string
	streamed   bool
	done       chan outcome
	dim        *color.Color
	yellow     *color.Color
}

func newEventPrinter(exchangeID string) *eventPrinter {
	return &eventPrinter{
		exchangeID: exchangeID,
		done:       make(chan outcome, 1),
		dim:        color.New(color.Faint, color.Italic),
		yellow:     color.New(color.FgYellow),
	}
}

func (p *eventPrinter) handle(ev events.Event) {
	if ev.Exchange != p.exchangeID {
		return
	}

	switch ev.Kind {
	case brain.EventTokensCounted:
		p.dim.Printf("[%v input tokens]\n", ev.NewValue)
	case brain.EventPartialChunk:
		chunk, _ := ev.NewValue.(string)
		p.streamed = p.streamed || chunk != ""
		fmt.Print(chunk)
	case brain.EventToolBeforeExecution:
		if req, ok := ev.NewValue.(brain.ToolRequest); ok {
			p.yellow.Printf("\n[tool: %s %s]\n", req.Name, req.Arguments)
		}
	case brain.EventToolExecuted:
		exec, ok := ev.NewValue.(brain.ToolExecution)
		switch {
		case !ok:
		case exec.Err != nil:
			color.Red("  %v\n", exec.Err)
		case exec.Result != "":
			p.dim.Printf("  %s\n", firstLine(exec.Result))
		}
	case brain.EventCompleted:
		resp, _ := ev.NewValue.(*brain.Response)
		if resp == nil {
			resp = &brain.Response{}
		}
		if !p.streamed {
			fmt.Print(resp.Text)
		}
		fmt.Println()
		p.done <- outcome{answer: resp.Text}
	case brain.EventError:
		err, ok := ev.NewValue.(error)
		if !ok {
			err = fmt.Errorf("exchange failed: %v", ev.NewValue)
		}
		p.done <- outcome{err: err}
	}
}

func firstLine(s string) string {
	line, rest, found := strings.Cut(s, "\n")
	if found && strings.TrimSpace(rest) != "" {
		return line + " ..."
	}
	return line
}

func printUsage(store usage.Store, since time.Time) {
	stats, err := store.Stats(context.Background(), usage.Filter{Since: &since})
	if err != nil {
		color.Red("Usage unavailable: %v\n", err)
		return
	}
	color.New(color.FgCyan).Printf("Usage: %d exchanges, %d input tokens, %d output tokens\n",
		stats.Exchanges, stats.InputTokens, stats.OutputTokens)
}
