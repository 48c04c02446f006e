// Package phase defines the static catalog of pipeline phases.
//
// A feature moves through phase 0 (Plan) followed by run phases 1..7:
// Observer, Planning, ExecutePhase3, ExecutePhase4, Review, Fix,
// Verification. Each phase carries a template id, tool permissions, a
// permission mode, a turn limit, an optional budget cap, and a decision
// profile. Catalog values are immutable for the lifetime of a process;
// deployments may override individual phases from a directory of per-phase
// TOML files loaded once at startup.
package phase

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// PermissionMode controls how much autonomy the agent gets for a phase.
type PermissionMode string

const (
	// ModeDefault prompts for every write.
	ModeDefault PermissionMode = "default"
	// ModeAcceptEdits auto-accepts file edits.
	ModeAcceptEdits PermissionMode = "accept_edits"
	// ModePlan is read-only: the agent may inspect but not modify.
	ModePlan PermissionMode = "plan"
	// ModeBypassPermissions disables permission prompts entirely.
	ModeBypassPermissions PermissionMode = "bypass"
)

// validModes is the set of recognised permission modes.
var validModes = map[PermissionMode]bool{
	ModeDefault:           true,
	ModeAcceptEdits:       true,
	ModePlan:              true,
	ModeBypassPermissions: true,
}

// IsValid reports whether the mode is a recognised value.
func (m PermissionMode) IsValid() bool {
	return validModes[m]
}

// DecisionProfile names the keyword-decision gate attached to a phase.
type DecisionProfile string

const (
	// ProfileNone means the phase output is not keyword-gated.
	ProfileNone DecisionProfile = ""
	// ProfileReview gates on APPROVED / NEEDS_CHANGES.
	ProfileReview DecisionProfile = "review"
	// ProfileVerification gates on VERIFIED / FAILED.
	ProfileVerification DecisionProfile = "verification"
)

// Run-phase ordinals. Ordinal 0 is reserved for Plan.
const (
	OrdinalPlan         = 0
	OrdinalObserver     = 1
	OrdinalPlanning     = 2
	OrdinalExecute3     = 3
	OrdinalExecute4     = 4
	OrdinalReview       = 5
	OrdinalFix          = 6
	OrdinalVerification = 7
)

// Config describes one phase in the catalog.
type Config struct {
	// Ordinal is the phase number (0 for Plan, 1..7 for run phases).
	Ordinal int `toml:"ordinal"`

	// Name is the display name shown in state files and status documents.
	Name string `toml:"name"`

	// TemplateID identifies the prompt template (e.g. "run/phase1_observer").
	TemplateID string `toml:"template_id"`

	// AllowedTools lists the tools the agent may invoke. Empty means all.
	AllowedTools []string `toml:"allowed_tools"`

	// DisallowedTools lists tools explicitly denied even when AllowedTools
	// is empty.
	DisallowedTools []string `toml:"disallowed_tools"`

	// Mode is the permission mode for the phase.
	Mode PermissionMode `toml:"permission_mode"`

	// MaxTurns caps the agent conversation length.
	MaxTurns int `toml:"max_turns"`

	// MaxBudgetUSD caps the phase spend. Zero means uncapped.
	MaxBudgetUSD float64 `toml:"max_budget_usd"`

	// Profile selects the decision gate applied to the phase output.
	Profile DecisionProfile `toml:"decision_profile"`
}

// WritesFiles reports whether the phase's tool set includes a write-capable
// tool. Phases 3, 4, and 6 write; 1, 2, 5, and 7 do not.
func (c Config) WritesFiles() bool {
	for _, tool := range c.AllowedTools {
		if tool == "Write" || tool == "Edit" {
			return true
		}
	}
	return false
}

// builtin is the bundled catalog, mirroring the per-phase tool sets, turn
// limits, and budgets the pipeline was designed around.
var builtin = map[int]Config{
	OrdinalPlan: {
		Ordinal:      OrdinalPlan,
		Name:         "Plan Feature",
		TemplateID:   "plan/feature_analysis",
		AllowedTools: []string{"Read", "ListFiles", "Write"},
		Mode:         ModeAcceptEdits,
		MaxTurns:     20,
	},
	OrdinalObserver: {
		Ordinal:      OrdinalObserver,
		Name:         "Build Observer",
		TemplateID:   "run/phase1_observer",
		AllowedTools: []string{"Read"},
		Mode:         ModePlan,
		MaxTurns:     5,
	},
	OrdinalPlanning: {
		Ordinal:    OrdinalPlanning,
		Name:       "Build Plan",
		TemplateID: "run/phase2_planning",
		Mode:       ModePlan,
		MaxTurns:   5,
	},
	OrdinalExecute3: {
		Ordinal:      OrdinalExecute3,
		Name:         "Execute Phase 1",
		TemplateID:   "run/phase3_execute",
		AllowedTools: []string{"Read", "Write", "Bash"},
		Mode:         ModeAcceptEdits,
		MaxTurns:     30,
		MaxBudgetUSD: 5.0,
	},
	OrdinalExecute4: {
		Ordinal:      OrdinalExecute4,
		Name:         "Execute Phase 2",
		TemplateID:   "run/phase4_execute",
		AllowedTools: []string{"Read", "Write", "Bash"},
		Mode:         ModeAcceptEdits,
		MaxTurns:     30,
		MaxBudgetUSD: 5.0,
	},
	OrdinalReview: {
		Ordinal:      OrdinalReview,
		Name:         "Code Review",
		TemplateID:   "run/phase5_review",
		AllowedTools: []string{"Read"},
		Mode:         ModePlan,
		MaxTurns:     10,
		Profile:      ProfileReview,
	},
	OrdinalFix: {
		Ordinal:      OrdinalFix,
		Name:         "Apply Fixes",
		TemplateID:   "run/phase6_fix",
		AllowedTools: []string{"Read", "Write"},
		Mode:         ModeAcceptEdits,
		MaxTurns:     15,
	},
	OrdinalVerification: {
		Ordinal:      OrdinalVerification,
		Name:         "Verification",
		TemplateID:   "run/phase7_verification",
		AllowedTools: []string{"Read", "Bash"},
		Mode:         ModePlan,
		MaxTurns:     10,
		Profile:      ProfileVerification,
	},
}

// Catalog is the process-wide phase table. It is populated once (from the
// bundled table, optionally overridden by a config directory) and read-only
// afterwards.
type Catalog struct {
	phases map[int]Config
}

// NewCatalog returns a catalog holding the bundled phase table.
func NewCatalog() *Catalog {
	phases := make(map[int]Config, len(builtin))
	for k, v := range builtin {
		phases[k] = v
	}
	return &Catalog{phases: phases}
}

// LoadCatalog returns the bundled table with any per-phase TOML overrides
// from dir applied. Each *.toml file in dir must decode to a single Config
// whose Ordinal names the phase it replaces. A missing dir is not an error;
// an unknown ordinal or malformed file is.
func LoadCatalog(dir string) (*Catalog, error) {
	catalog := NewCatalog()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return catalog, nil
		}
		return nil, fmt.Errorf("phase: reading catalog dir %q: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		var override Config
		if _, err := toml.DecodeFile(path, &override); err != nil {
			return nil, fmt.Errorf("phase: decoding %q: %w", path, err)
		}
		if _, ok := catalog.phases[override.Ordinal]; !ok {
			return nil, fmt.Errorf("phase: %q overrides unknown phase %d", path, override.Ordinal)
		}
		if override.Mode != "" && !override.Mode.IsValid() {
			return nil, fmt.Errorf("phase: %q has invalid permission mode %q", path, override.Mode)
		}

		merged := catalog.phases[override.Ordinal]
		if override.Name != "" {
			merged.Name = override.Name
		}
		if override.TemplateID != "" {
			merged.TemplateID = override.TemplateID
		}
		if override.AllowedTools != nil {
			merged.AllowedTools = override.AllowedTools
		}
		if override.DisallowedTools != nil {
			merged.DisallowedTools = override.DisallowedTools
		}
		if override.Mode != "" {
			merged.Mode = override.Mode
		}
		if override.MaxTurns > 0 {
			merged.MaxTurns = override.MaxTurns
		}
		if override.MaxBudgetUSD > 0 {
			merged.MaxBudgetUSD = override.MaxBudgetUSD
		}
		catalog.phases[override.Ordinal] = merged
	}

	return catalog, nil
}

// Get returns the config for the given ordinal. The second return value is
// false for ordinals outside 0..7.
func (c *Catalog) Get(ordinal int) (Config, bool) {
	cfg, ok := c.phases[ordinal]
	return cfg, ok
}

// Name returns the display name for the ordinal, or "Phase N" for unknown
// ordinals so callers can always render something.
func (c *Catalog) Name(ordinal int) string {
	if cfg, ok := c.phases[ordinal]; ok {
		return cfg.Name
	}
	return fmt.Sprintf("Phase %d", ordinal)
}

// RunOrdinals returns the run-phase ordinals 1..7 in ascending order.
func (c *Catalog) RunOrdinals() []int {
	var ordinals []int
	for n := range c.phases {
		if n >= OrdinalObserver {
			ordinals = append(ordinals, n)
		}
	}
	sort.Ints(ordinals)
	return ordinals
}
