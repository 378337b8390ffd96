package engine

import (
	"path/filepath"

	"pairforge/internal/collab"
	"pairforge/internal/config"
	"pairforge/internal/domain"
)

// DefaultCollaborators wires the configured assistant providers into the
// engine's collaborator slots. Each generation target gets its own
// working directory under the workspace.
func DefaultCollaborators(cfg *config.Config, workspace string) Collaborators {
	planner, judge := orchestratorAssistant(cfg, workspace)
	return Collaborators{
		Planner:  planner,
		Judge:    judge,
		Verifier: collab.StaticVerifier{},
		Generators: map[string]collab.Generator{
			domain.TargetBackend:  targetGenerator(cfg, workspace, "backend", domain.TargetBackend),
			domain.TargetFrontend: targetGenerator(cfg, workspace, "frontend", domain.TargetFrontend),
		},
	}
}

func orchestratorAssistant(cfg *config.Config, workspace string) (collab.Planner, collab.Judge) {
	provider := cfg.ProviderFor("orchestrator")
	if provider == "mock" {
		m := collab.MockAssistant{}
		return m, m
	}
	a := collab.NewCLIAssistant(provider, "orchestrator", cfg.CollaboratorTimeout(), workspace)
	return a, a
}

func targetGenerator(cfg *config.Config, workspace, role, target string) collab.Generator {
	provider := cfg.ProviderFor(role)
	if provider == "mock" {
		return collab.MockAssistant{}
	}
	dir := filepath.Join(workspace, "output", target)
	return collab.NewCLIAssistant(provider, role, cfg.CollaboratorTimeout(), dir)
}
