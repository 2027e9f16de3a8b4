package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/esteira/internal/agent"
	"github.com/rahul/esteira/internal/observability"
	"github.com/rahul/esteira/internal/pipeline"
	"github.com/rahul/esteira/internal/preview"
)

const defaultConfigPath = "config.json"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}
	switch args[0] {
	case "run":
		return runPipeline(args[1:])
	case "resume":
		return resumePipeline(args[1:])
	case "artifacts":
		return listArtifacts(args[1:])
	case "ping":
		return ping(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return nil
	}
	printUsage()
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage() {
	fmt.Fprint(os.Stderr, `esteira drives a sequence of AI agents from a brief to a finished landing page.

Usage:
  esteira run [flags] <brief...>     start a new pipeline session
  esteira resume [flags] <session>   continue a persisted session
  esteira artifacts [flags] <session>  list, show or export a session's artifacts
  esteira ping [flags]               check that the agent backend answers

Run "esteira <command> --help" for the flags of a command.
`)
}

// sessionFlags are shared by run and resume.
type sessionFlags struct {
	configPath  string
	stream      bool
	interactive bool
	approvals   map[string]string
}

func (f *sessionFlags) add(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.configPath, "config", "c", "", "config file (default: ./config.json when present)")
	flagSet.BoolVar(&f.stream, "stream", false, "echo agent output as it arrives")
	flagSet.BoolVar(&f.interactive, "interactive", observability.IsTerminal(), "answer approvals from this terminal")
	flagSet.StringToStringVar(&f.approvals, "approval", nil, "override approval per agent, e.g. --approval copy=off")
}

func (f *sessionFlags) approvalMap() (map[string]bool, error) {
	m := make(map[string]bool, len(f.approvals))
	for agentID, v := range f.approvals {
		switch strings.ToLower(v) {
		case "on", "true", "yes", "1":
			m[agentID] = true
		case "off", "false", "no", "0":
			m[agentID] = false
		default:
			return nil, fmt.Errorf("invalid approval %s=%s, expected on or off", agentID, v)
		}
	}
	return m, nil
}

func runPipeline(args []string) error {
	var flags sessionFlags
	var variant, sessionID, inputFile string

	flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.add(flagSet)
	flagSet.StringVarP(&variant, "variant", "v", pipeline.DefaultVariant, "pipeline variant")
	flagSet.StringVar(&sessionID, "session", "", "session id (default: a new UUID)")
	flagSet.StringVarP(&inputFile, "input", "i", "", "read the brief from a file ('-' for stdin)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	input, err := readBrief(flagSet.Args(), inputFile)
	if err != nil {
		return err
	}
	approvals, err := flags.approvalMap()
	if err != nil {
		return err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return session(flags, func(ctx context.Context, e *engine) error {
		return e.orch.Start(ctx, sessionID, input, variant, pipeline.WithApprovals(approvals))
	})
}

func resumePipeline(args []string) error {
	var flags sessionFlags

	flagSet := pflag.NewFlagSet("resume", pflag.ContinueOnError)
	flags.add(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("resume needs exactly one session id")
	}
	sessionID := flagSet.Arg(0)
	approvals, err := flags.approvalMap()
	if err != nil {
		return err
	}

	return session(flags, func(ctx context.Context, e *engine) error {
		return e.orch.Resume(ctx, sessionID, pipeline.WithApprovals(approvals))
	})
}

// session wires an engine, begins a run with begin and blocks until it
// finishes or the process is interrupted.
func session(flags sessionFlags, begin func(context.Context, *engine) error) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if observability.IsTerminal() {
		observability.InitializeTerminal()
		defer observability.CleanupTerminal()
	}
	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	e, err := newEngine(cfg, flags.stream)
	if err != nil {
		return err
	}
	defer e.Close()

	e.startGateways(stop)
	go e.dashboard(ctx)

	configPath := flags.configPath
	if configPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			configPath = defaultConfigPath
		}
	}
	e.watchConfig(ctx, configPath)

	if err := begin(ctx, e); err != nil {
		return err
	}
	if flags.interactive {
		go e.terminal.Interact(ctx, e.orch, os.Stdin)
	}

	st := e.wait(ctx)
	if st == nil {
		return nil
	}
	switch st.Status {
	case pipeline.StatusCompleted:
		log.Printf("\033[95m[ EXIT ] Session %s completed. Artifacts in %s\033[0m", st.SessionID, filepath.Join(e.store.Root, st.SessionID))
	case pipeline.StatusError:
		msg := "unknown error"
		if st.Error != nil {
			msg = *st.Error
		}
		return fmt.Errorf("session %s failed: %s", st.SessionID, msg)
	default:
		log.Printf("[ EXIT ] Session %s paused at step %d. Continue with: esteira resume %s", st.SessionID, st.CurrentStepIndex+1, st.SessionID)
	}
	return nil
}

// readBrief takes the brief from the positional args, a file or stdin.
func readBrief(args []string, inputFile string) (string, error) {
	var input string
	switch {
	case inputFile == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		input = string(data)
	case inputFile != "":
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return "", fmt.Errorf("failed to read brief: %w", err)
		}
		input = string(data)
	default:
		input = strings.Join(args, " ")
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("a brief is required: pass it as arguments or with --input")
	}
	return input, nil
}

func listArtifacts(args []string) error {
	var configPath, htmlDir, show string
	var events int

	flagSet := pflag.NewFlagSet("artifacts", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "config file")
	flagSet.StringVar(&htmlDir, "html", "", "export every artifact as a standalone HTML page into this directory")
	flagSet.StringVar(&show, "show", "", "print one artifact")
	flagSet.IntVar(&events, "events", 0, "also print the last N recorded events")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("artifacts needs exactly one session id")
	}
	sessionID := flagSet.Arg(0)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	e, err := newEngine(cfg, false)
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := e.store.LoadState(sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("Session %s (%s, %s)\n", st.SessionID, st.Variant, st.Status)

	artifacts, err := e.store.Artifacts(sessionID)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		if show != "" {
			if a.Name == show {
				fmt.Println(a.Content)
				return nil
			}
			continue
		}
		fmt.Printf("  %-24s %-10s %s  %s\n", a.Name, a.Header.Agent, a.Header.Created.Format(time.RFC3339), preview.Excerpt(a.Content, 60))

		if htmlDir != "" {
			page, err := preview.Document(a.Name, a.Content)
			if err != nil {
				return fmt.Errorf("failed to render %s: %w", a.Name, err)
			}
			out := filepath.Join(htmlDir, strings.TrimSuffix(filepath.Base(a.Name), filepath.Ext(a.Name))+".html")
			if err := os.MkdirAll(htmlDir, 0755); err != nil {
				return err
			}
			if err := os.WriteFile(out, []byte(page), 0644); err != nil {
				return err
			}
		}
	}
	if show != "" {
		return fmt.Errorf("no artifact named %s in session %s", show, sessionID)
	}

	if events > 0 && e.index != nil {
		recorded, err := e.index.Events(sessionID, events)
		if err != nil {
			return err
		}
		fmt.Println("Events:")
		for _, ev := range recorded {
			fmt.Printf("  %s %-18s %s\n", ev.Timestamp.Format("15:04:05"), ev.Name, ev.Agent)
		}
	}
	return nil
}

func ping(args []string) error {
	var configPath string

	flagSet := pflag.NewFlagSet("ping", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "config file")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch cfg.Agent.Backend {
	case "llm":
		model, name, err := newModel(cfg)
		if err != nil {
			return err
		}
		if _, err := llms.GenerateFromSinglePrompt(ctx, model, "Reply with OK."); err != nil {
			return fmt.Errorf("%s is not answering: %w", name, err)
		}
		fmt.Printf("%s is up\n", name)
	default:
		client := agent.NewClient(cfg.Agent.Binary, cfg.Agent.Args...)
		if err := client.Ping(ctx); err != nil {
			return err
		}
		fmt.Printf("%s is up (last ping %s)\n", cfg.Agent.Binary, client.Status().LastPing.Format(time.RFC3339))
	}
	return nil
}
