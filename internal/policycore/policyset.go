package policycore

import (
	"fmt"

	"github.com/cedar-policy/cedar-go"
	cedartypes "github.com/cedar-policy/cedar-go/types"
	"github.com/cedar-policy/cedar-go/x/exp/ast"

	ttypes "github.com/tinytodo/authz-server/pkg/types"
)

// PolicyStore holds one parsed generation of policy text in the two forms
// the engine needs: a *cedar.PolicySet for full evaluation (Authorize),
// and the same policies as a map[PolicyID]*ast.Policy for partial
// evaluation (eval.PartialPolicySet takes raw AST, not a PolicySet).
//
// A new PolicyStore is built wholesale on every load and hot-reload
// (SPEC_FULL.md §4.6): there is no incremental patching, matching the
// original source's "swap the whole policy set" reload semantics.
type PolicyStore struct {
	set    *cedar.PolicySet
	byID   map[cedartypes.PolicyID]*ast.Policy
	source string
}

// LoadPolicySet parses Cedar policy text into a PolicyStore. fileName is
// used only for diagnostic positions in parse errors.
func LoadPolicySet(fileName string, document []byte) (*PolicyStore, error) {
	set, err := cedar.NewPolicySetFromBytes(fileName, document)
	if err != nil {
		return nil, ttypes.PolicyError(fmt.Errorf("%s: %w", fileName, err))
	}

	byID := make(map[cedartypes.PolicyID]*ast.Policy, len(set.Map()))
	for id, p := range set.Map() {
		// Partial evaluation operates on the raw AST beneath each parsed
		// policy; cedar-go's x/exp/eval package takes that AST directly
		// rather than a *cedar.PolicySet.
		byID[id] = p.AST()
	}

	return &PolicyStore{set: set, byID: byID, source: fileName}, nil
}

// Cedar returns the policy set in the form cedar.Authorize consumes.
func (s *PolicyStore) Cedar() *cedar.PolicySet {
	return s.set
}

// ASTMap returns the policy set in the form eval.PartialPolicySet consumes.
func (s *PolicyStore) ASTMap() map[cedartypes.PolicyID]*ast.Policy {
	return s.byID
}

// Len reports how many policies this generation holds, for logging.
func (s *PolicyStore) Len() int {
	return len(s.byID)
}
