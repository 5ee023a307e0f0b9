package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/taskdeck/taskdeck/internal/automode"
	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/events"
	"github.com/taskdeck/taskdeck/internal/executor"
	"github.com/taskdeck/taskdeck/internal/orchestrator"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/internal/tui"
	"github.com/taskdeck/taskdeck/internal/worktree"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	dbPath, err := config.DefaultDatabasePath(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving database path: %v\n", err)
		os.Exit(1)
	}
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	bus := events.NewBus()
	defer bus.Close()

	pm := executor.NewProcessManager()

	agentCfg := cfg.Agents[cfg.DefaultAgent]
	agent := executor.NewAgentExecutor(executor.Config{
		Command: agentCfg.Command,
		Args:    agentCfg.Args,
		Model:   agentCfg.Model,
	}, pm)
	exec := executor.NewResilientExecutor(agent, agentCfg.Command,
		executor.NewBreakerRegistry(), executor.DefaultRetryConfig())

	coord := orchestrator.New(st, bus, exec)
	if err := coord.Restore(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error restoring state: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
		os.Exit(1)
	}
	worktrees := worktree.NewManager(worktree.Config{
		RepoPath:    cwd,
		BaseBranch:  cfg.AutoMode.BaseBranch,
		WorktreeDir: cfg.AutoMode.WorktreeDir,
	})
	if err := worktrees.Prune(); err != nil {
		log.Printf("WARNING: worktree prune failed: %v", err)
	}

	auto := automode.New(automode.Config{
		ProjectID:           cwd,
		MaxConcurrency:      cfg.AutoMode.MaxConcurrency,
		PlanFirst:           cfg.AutoMode.PlanFirst,
		RequirePlanApproval: cfg.AutoMode.RequirePlanApproval,
	}, st, bus, exec, worktrees)
	if err := auto.Restore(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error restoring auto mode: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(tui.New(bus), tea.WithAltScreen())

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	select {
	case err := <-errChan:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		// Restore default signal handling so a second Ctrl+C force-exits.
		stop()

		log.Println("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := auto.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error stopping auto mode: %v", err)
		}
		if err := pm.KillAll(); err != nil {
			log.Printf("Error killing subprocesses: %v", err)
		}

		p.Quit()
		select {
		case err := <-errChan:
			if err != nil {
				log.Printf("TUI exit error: %v", err)
			}
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded, forcing exit")
		}
	}

	log.Println("Shutdown complete")
}
