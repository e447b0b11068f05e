// Package daemon assembles the support service: stores, knowledge
// index, tool registry, orchestrator and gateway, built from one
// config and torn down in reverse order.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/sundesk/sundesk/internal/config"
	"github.com/sundesk/sundesk/internal/logger"
	"github.com/sundesk/sundesk/pkg/gateway"
	"github.com/sundesk/sundesk/pkg/guardrail"
	"github.com/sundesk/sundesk/pkg/knowledge"
	"github.com/sundesk/sundesk/pkg/memory"
	"github.com/sundesk/sundesk/pkg/orchestrator"
	"github.com/sundesk/sundesk/pkg/session"
	"github.com/sundesk/sundesk/pkg/support"
	"github.com/sundesk/sundesk/pkg/ticket"
	"github.com/sundesk/sundesk/pkg/tool"
	"github.com/sundesk/sundesk/pkg/trace"
)

// Daemon owns every long-lived component of the support service.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger

	logSink      *logger.Logger
	sessions     *session.Manager
	memory       *memory.Store
	profiles     *support.ProfileStore
	tickets      *ticket.Store
	knowledge    *knowledge.Index
	tracer       *trace.Emitter
	orchestrator *orchestrator.Orchestrator
	gateway      *gateway.Server
}

// New builds the daemon from configuration. Components that fail to
// initialize abort construction; everything already built is closed.
func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logSink, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	d := &Daemon{
		cfg:     cfg,
		logSink: logSink,
		logger:  logSink.GetZerolog(),
	}

	if err := d.buildComponents(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) buildComponents() error {
	cfg := d.cfg

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	sessions, err := session.NewManager(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	d.sessions = sessions

	mem, err := memory.NewStore(cfg.Memory.DBPath, d.logger)
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	d.memory = mem

	profiles, err := support.NewProfileStore(filepath.Join(cfg.DataDir, "profiles.db"), d.logger)
	if err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}
	d.profiles = profiles

	tickets, err := ticket.NewStore(cfg.Ticket.DBPath, d.logger)
	if err != nil {
		return fmt.Errorf("failed to open ticket store: %w", err)
	}
	d.tickets = tickets

	if cfg.Knowledge.DocsPath != "" {
		// the doc watcher cannot attach to a missing directory
		if err := os.MkdirAll(cfg.Knowledge.DocsPath, 0755); err != nil {
			return fmt.Errorf("failed to create docs directory: %w", err)
		}
		kb, err := knowledge.NewIndex(knowledge.Config{
			DocsPath: cfg.Knowledge.DocsPath,
			DBPath:   cfg.Knowledge.DBPath,
			Logger:   d.logger,
			Embedder: d.embedder(),
		})
		if err != nil {
			return fmt.Errorf("failed to open knowledge index: %w", err)
		}
		d.knowledge = kb
	}

	tracer, err := trace.NewEmitter(cfg.Trace.File, cfg.Trace.BufferSize)
	if err != nil {
		return fmt.Errorf("failed to open trace sink: %w", err)
	}
	d.tracer = tracer

	guard, err := guardrail.New(cfg.Guardrail)
	if err != nil {
		return fmt.Errorf("failed to compile guardrail: %w", err)
	}

	registry := tool.NewRegistry()
	toolset := support.NewToolset(profiles, tickets, d.knowledge, d.logger)
	if err := toolset.Register(registry); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Sessions:  sessions,
		Guardrail: guard,
		Memory:    mem,
		Registry:  registry,
		Trace:     tracer,
		Logger:    d.logger,
	}, cfg.Orchestrator, cfg.Model, cfg.Guardrail)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orchestrator = orch

	gw, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		Orchestrator: orch,
		Sessions:     sessions,
		Memory:       mem,
		Tickets:      tickets,
		Knowledge:    d.knowledge,
		Logger:       d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	d.gateway = gw

	return nil
}

// embedder returns the embedding client when embeddings are enabled and
// an OpenAI profile provides a key. Keyword-only search otherwise.
func (d *Daemon) embedder() knowledge.Embedder {
	if !d.cfg.Knowledge.Embeddings {
		return nil
	}
	for _, profile := range d.cfg.Model.Profiles {
		if profile.Provider == "openai" && profile.APIKey != "" {
			return knowledge.NewOpenAIEmbedder(profile.APIKey, "text-embedding-3-small")
		}
	}
	d.logger.Warn().Msg("embeddings enabled but no openai profile found, using keyword search only")
	return nil
}

// Run starts the gateway and the idle-session sweeper, then blocks
// until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.orchestrator.StartSweeper(); err != nil {
		return fmt.Errorf("failed to start idle sweeper: %w", err)
	}
	if err := d.gateway.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	d.logger.Info().
		Str("addr", fmt.Sprintf("%s:%d", d.cfg.Gateway.Host, d.cfg.Gateway.Port)).
		Msg("sundesk daemon running")

	<-ctx.Done()
	return d.Shutdown()
}

// Shutdown stops in dependency order: gateway first so no new turns
// arrive, then the orchestrator drains, then the stores close.
func (d *Daemon) Shutdown() error {
	d.logger.Info().Msg("daemon shutting down")

	if d.gateway != nil {
		if err := d.gateway.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("gateway shutdown failed")
		}
	}
	if d.orchestrator != nil {
		d.orchestrator.StopSweeper()
		if err := d.orchestrator.Close(); err != nil {
			d.logger.Error().Err(err).Msg("orchestrator shutdown failed")
		}
	}

	d.Close()
	d.logger.Info().Msg("daemon stopped")
	return nil
}

// Close releases storage and sinks. Safe on a partially built daemon.
func (d *Daemon) Close() {
	if d.tracer != nil {
		_ = d.tracer.Close()
	}
	if d.knowledge != nil {
		_ = d.knowledge.Close()
	}
	if d.tickets != nil {
		_ = d.tickets.Close()
	}
	if d.profiles != nil {
		_ = d.profiles.Close()
	}
	if d.memory != nil {
		_ = d.memory.Close()
	}
	if d.logSink != nil {
		_ = d.logSink.Close()
	}
}

// Seed populates demo customer profiles and knowledge articles for
// local development.
func (d *Daemon) Seed(ctx context.Context, customers int) error {
	ids, err := support.SeedProfiles(ctx, d.profiles, customers)
	if err != nil {
		return fmt.Errorf("failed to seed profiles: %w", err)
	}
	d.logger.Info().Int("customers", len(ids)).Msg("seeded customer profiles")

	if d.cfg.Knowledge.DocsPath != "" {
		if err := support.SeedKnowledgeDocs(d.cfg.Knowledge.DocsPath); err != nil {
			return fmt.Errorf("failed to seed knowledge docs: %w", err)
		}
		d.logger.Info().Str("path", d.cfg.Knowledge.DocsPath).Msg("seeded knowledge articles")
	}
	return nil
}

// Orchestrator exposes the turn engine for embedded callers.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orchestrator
}
