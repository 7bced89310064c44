// Package main is the entry point for the orchestrator CLI.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/security"
	"github.com/vinayprograms/agentkit/telemetry"

	"github.com/davidkarpay/agentrt/internal/agentmanager"
	"github.com/davidkarpay/agentrt/internal/checkpoint"
	"github.com/davidkarpay/agentrt/internal/config"
	"github.com/davidkarpay/agentrt/internal/credentials"
	"github.com/davidkarpay/agentrt/internal/llmclient"
	"github.com/davidkarpay/agentrt/internal/memory"
	"github.com/davidkarpay/agentrt/internal/orchestrator"
	"github.com/davidkarpay/agentrt/internal/outputsink"
	"github.com/davidkarpay/agentrt/internal/setup"
	"github.com/davidkarpay/agentrt/internal/toolexec"
	"github.com/davidkarpay/agentrt/internal/workflow"
)

const version = "0.1.0"

func init() {
	_ = godotenv.Load()
}

func main() {
	if len(os.Args) < 2 {
		runREPL(defaultConfigPath())
		return
	}

	cmd := os.Args[1]
	switch cmd {
	case "run":
		path := defaultConfigPath()
		if len(os.Args) > 2 {
			path = os.Args[2]
		}
		runREPL(path)
	case "setup":
		outPath := defaultConfigPath()
		if len(os.Args) > 2 {
			outPath = os.Args[2]
		}
		if err := setup.Run(outPath); err != nil {
			fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
			os.Exit(orchestrator.ExitFatal)
		}
	case "version":
		fmt.Printf("orchestrator version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func securityMode(s string) security.Mode {
	switch s {
	case "paranoid":
		return security.ModeParanoid
	case "research":
		return security.ModeResearch
	default:
		return security.ModeDefault
	}
}

func securityTrust(s string) security.TrustLevel {
	switch s {
	case "trusted":
		return security.TrustTrusted
	case "vetted":
		return security.TrustVetted
	default:
		return security.TrustUntrusted
	}
}

func printUsage() {
	fmt.Println(`Usage: orchestrator <command> [options]

Commands:
  run [config.toml]     Start the interactive orchestrator REPL (default)
  setup [config.toml]   Launch the interactive setup wizard
  version                Show version
  help                    Show this help

REPL commands:
  <text>                 Send text to the main agent
  @<agent_id> <text>      Send text directly to a spawned agent
  /spawn <role> <task>    Spawn a sub-agent
  /terminate <agent_id>   Cancel a running agent
  /agents                 List all agents
  /stats                  Show agent statistics
  /approve <plan_id>      Approve a submitted plan
  /reject <plan_id>       Reject a submitted plan
  /run <plan_id>          Execute an approved plan
  /cancel <plan_id>       Request cancellation of a running plan
  /quit                   Exit`)
}

func defaultConfigPath() string {
	return "orchestrator.toml"
}

func runREPL(configPath string) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.New()
		} else {
			fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
			os.Exit(orchestrator.ExitConfiguration)
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(orchestrator.ExitConfiguration)
	}

	creds, err := credentials.Load(cfg.Storage.Path + "/credentials.toml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading credentials: %v\n", err)
		os.Exit(orchestrator.ExitConfiguration)
	}

	var telem telemetry.Exporter
	if cfg.Telemetry.Enabled {
		telem, err = telemetry.NewExporter(cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating telemetry exporter: %v\n", err)
			os.Exit(orchestrator.ExitConfiguration)
		}
	} else {
		telem = telemetry.NewNoopExporter()
	}
	defer telem.Close()

	pol, err := toolexec.LoadPolicy(cfg.Storage.Path + "/policy.toml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: agentkit policy overlay disabled: %v\n", err)
		pol = nil
	}
	executor := toolexec.New(cfg.Workspace, cfg.FileOps, cfg.ToolPolicy, pol)

	checkpoints, err := checkpoint.NewStore(cfg.Storage.Path + "/checkpoints")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening checkpoint store: %v\n", err)
		os.Exit(orchestrator.ExitFatal)
	}

	var orch *orchestrator.Orchestrator
	onPlan := func(agentID, planText string) {
		if orch != nil {
			orch.OnAgentPlan(agentID, planText)
		}
	}

	clientFactory := func(profile config.AgentProfile) *llmclient.Client {
		apiKey := ""
		if profile.APIKeyEnv != "" {
			apiKey = creds.Get(profile.APIKeyEnv)
		}
		return llmclient.New(profile.BaseURL, apiKey, nil)
	}

	// llmProviderFor builds an agentkit/llm.Provider for one-shot,
	// non-streaming calls (observation extraction), as opposed to the
	// streaming Client agents use for their turn-by-turn completions.
	llmProviderFor := func(profile config.AgentProfile) (llm.Provider, error) {
		apiKey := ""
		if profile.APIKeyEnv != "" {
			apiKey = creds.Get(profile.APIKeyEnv)
		}
		providerName := profile.Provider
		if providerName == "" {
			providerName = llm.InferProviderFromModel(profile.ModelID)
		}
		return llm.NewProvider(llm.ProviderConfig{
			Provider:  providerName,
			Model:     profile.ModelID,
			APIKey:    apiKey,
			BaseURL:   profile.BaseURL,
			MaxTokens: profile.MaxTokens,
		})
	}

	agents := agentmanager.New(cfg, clientFactory, executor, outputsink.NewWriter(os.Stdout), onPlan)
	orch = orchestrator.New(cfg, agents, executor, checkpoints)

	if cfg.Security.Enabled {
		verifier, err := security.NewVerifier(security.Config{
			Mode:      securityMode(cfg.Security.Mode),
			UserTrust: securityTrust(cfg.Security.UserTrust),
		}, "orchestrator-"+uuid.NewString())
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: security tainting disabled: %v\n", err)
		} else {
			agents.SetSecurityVerifier(verifier)
			defer verifier.Destroy()
		}
	}

	if cfg.Storage.PersistMemory {
		if mainProfile, ok := cfg.GetProfile(config.RoleMain); ok {
			store, err := memory.NewBleveStore(memory.BleveStoreConfig{BasePath: cfg.Storage.Path + "/memory"})
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: memory store disabled: %v\n", err)
			} else if provider, err := llmProviderFor(mainProfile); err != nil {
				fmt.Fprintf(os.Stderr, "warning: observation extraction disabled: %v\n", err)
			} else {
				extractor := memory.NewObservationExtractor(provider)
				orch.EnableMemory(extractor, memory.NewBleveObservationStore(store))
			}
		}
	}

	if _, err := agents.Spawn(context.Background(), config.RoleMain, "", ""); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start main agent: %v\n", err)
		os.Exit(orchestrator.ExitFatal)
	}

	fmt.Println("orchestrator ready. type /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		if err := dispatchLine(ctx, orch, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	os.Exit(orchestrator.ExitNormal)
}

func dispatchLine(ctx context.Context, orch *orchestrator.Orchestrator, line string) error {
	switch {
	case strings.HasPrefix(line, "/spawn "):
		fields := strings.SplitN(strings.TrimPrefix(line, "/spawn "), " ", 2)
		if len(fields) != 2 {
			return fmt.Errorf("usage: /spawn <role> <task>")
		}
		id, err := orch.Spawn(ctx, config.Role(fields[0]), fields[1])
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil

	case strings.HasPrefix(line, "/terminate "):
		return orch.Terminate(strings.TrimPrefix(line, "/terminate "))

	case line == "/agents":
		for _, a := range orch.ListAgents() {
			fmt.Printf("%s\t%s\t%s\n", a.ID, a.Role, a.Status)
		}
		return nil

	case line == "/stats":
		stats := orch.Stats()
		fmt.Printf("total=%d active=%d by_role=%v by_status=%v\n", stats.Total, stats.Active, stats.ByRole, stats.ByStatus)
		return nil

	case strings.HasPrefix(line, "/approve "):
		return orch.Approve(strings.TrimPrefix(line, "/approve "))

	case strings.HasPrefix(line, "/reject "):
		return orch.Reject(strings.TrimPrefix(line, "/reject "))

	case strings.HasPrefix(line, "/run "):
		planID := strings.TrimPrefix(line, "/run ")
		ok, msg := orch.Execute(ctx, planID, func(evt workflow.ProgressEvent) {
			fmt.Printf("  [%s] %s: %s\n", evt.PlanID, evt.StepID, evt.Event)
		})
		fmt.Printf("ok=%v %s\n", ok, msg)
		return nil

	case strings.HasPrefix(line, "/cancel "):
		orch.CancelWorkflow(strings.TrimPrefix(line, "/cancel "))
		return nil

	default:
		return orch.HandleUserLine(ctx, line)
	}
}
