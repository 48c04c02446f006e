package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/scribe-cli/scribe/internal/agent"
	"github.com/scribe-cli/scribe/internal/buildinfo"
	"github.com/scribe-cli/scribe/internal/config"
	"github.com/scribe-cli/scribe/internal/driver"
	"github.com/scribe-cli/scribe/internal/event"
	"github.com/scribe-cli/scribe/internal/phase"
	"github.com/scribe-cli/scribe/internal/template"
)

// deps bundles the collaborators a command needs, resolved once per
// invocation from the persistent flags.
type deps struct {
	cfg      *config.Config
	repoRoot string
	catalog  *phase.Catalog
	renderer *template.Renderer
	bus      *event.Bus
}

// resolveDeps loads configuration and constructs the shared collaborators.
func resolveDeps(flags *rootFlags) (*deps, error) {
	repoRoot, err := resolveRepo(flags)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(repoRoot, flags.config)
	if err != nil {
		return nil, err
	}
	if flags.repo == "" && cfg.DefaultRepo != "" {
		repoRoot = cfg.DefaultRepo
	}

	catalog, err := phase.LoadCatalog(phaseDir(cfg, repoRoot))
	if err != nil {
		return nil, err
	}

	return &deps{
		cfg:      cfg,
		repoRoot: repoRoot,
		catalog:  catalog,
		renderer: template.NewRenderer(cfg.TemplateDir),
		bus:      event.NewBus(event.DefaultQueueSize),
	}, nil
}

// newAgent constructs the configured agent variant.
func (d *deps) newAgent() (agent.Agent, error) {
	return agent.New(d.cfg.AgentType(), d.cfg.Agent.Model, d.cfg.Agent.Command)
}

// newDriver constructs a feature driver over the resolved collaborators.
func (d *deps) newDriver(ag agent.Agent) *driver.Driver {
	return driver.New(d.cfg, d.repoRoot, d.catalog, ag, d.renderer, d.bus, buildinfo.Version)
}

// resolveRepo resolves the repository root from --repo or the working
// directory.
func resolveRepo(flags *rootFlags) (string, error) {
	if flags.repo != "" {
		abs, err := filepath.Abs(flags.repo)
		if err != nil {
			return "", fmt.Errorf("resolving --repo: %w", err)
		}
		return abs, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	return cwd, nil
}

// phaseDir resolves the phase-catalog override directory.
func phaseDir(cfg *config.Config, repoRoot string) string {
	if cfg.PhaseDir != "" {
		return cfg.PhaseDir
	}
	return filepath.Join(repoRoot, ".scribe", "phases")
}
