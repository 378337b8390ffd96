package collab

import (
	"context"
	"fmt"
	"strings"

	"pairforge/internal/domain"
)

// StaticVerifier is the default verification collaborator. It runs a set
// of cheap templates over the artifact set: files present, files
// non-empty, no hidden control characters, and contract conformance for
// the target under test. Diagnostics name the failing template so the
// replanner can classify the failure.
type StaticVerifier struct{}

func (StaticVerifier) Verify(_ context.Context, target string, artifacts domain.ArtifactSet, contract domain.Contract) (domain.VerificationResult, error) {
	var diags []string
	if len(artifacts) == 0 {
		return domain.VerificationResult{
			Passed:      false,
			Diagnostics: []string{"missing files: no artifacts generated"},
		}, nil
	}
	var empty []string
	for _, path := range artifacts.Paths() {
		if strings.TrimSpace(artifacts[path]) == "" {
			empty = append(empty, path)
		}
	}
	if len(empty) > 0 {
		diags = append(diags, fmt.Sprintf("empty files: %s", strings.Join(empty, ", ")))
	}
	if hidden := filesWithHiddenChars(artifacts); len(hidden) > 0 {
		diags = append(diags, fmt.Sprintf("files with hidden control characters: %s", strings.Join(hidden, ", ")))
	}
	diags = append(diags, contractDiagnostics(target, artifacts, contract)...)
	return domain.VerificationResult{Passed: len(diags) == 0, Diagnostics: diags}, nil
}

func filesWithHiddenChars(artifacts domain.ArtifactSet) []string {
	var out []string
	for _, path := range artifacts.Paths() {
		if containsHidden(artifacts[path]) {
			out = append(out, path)
		}
	}
	return out
}

func containsHidden(s string) bool {
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
		case r < 0x20 || r == 0x7F:
			return true
		}
	}
	return false
}

// contractDiagnostics checks that the target honors the shared contract:
// the backend must implement every endpoint path, the frontend must
// reference the paths it is expected to call.
func contractDiagnostics(target string, artifacts domain.ArtifactSet, contract domain.Contract) []string {
	if len(contract.Endpoints) == 0 {
		return nil
	}
	var corpus strings.Builder
	for _, path := range artifacts.Paths() {
		corpus.WriteString(artifacts[path])
		corpus.WriteByte('\n')
	}
	body := corpus.String()
	var diags []string
	for _, ep := range contract.Endpoints {
		if strings.Contains(body, ep.Path) {
			continue
		}
		switch target {
		case domain.TargetBackend:
			diags = append(diags, fmt.Sprintf("missing endpoint: backend does not implement %s %s", ep.Method, ep.Path))
		case domain.TargetFrontend:
			diags = append(diags, fmt.Sprintf("missing call: frontend never references %s", ep.Path))
		}
	}
	return diags
}
