package policycore

import (
	"fmt"

	"github.com/cedar-policy/cedar-go"
	cedartypes "github.com/cedar-policy/cedar-go/types"
	"github.com/cedar-policy/cedar-go/x/exp/eval"

	"github.com/tinytodo/authz-server/internal/schema"
	ttypes "github.com/tinytodo/authz-server/pkg/types"
)

// Authorizer is the policy-evaluation half of the Policy Decision Core: it
// knows nothing about SQL or the mailbox, only how to run one request
// through cedar-go, full or partial, against a given PolicyStore
// generation and entity source.
type Authorizer struct {
	schema *schema.Map
	resolve MembershipResolver
}

// NewAuthorizer builds an Authorizer bound to an Entity Schema Map and a
// membership resolver for the translator's EXISTS-subquery path.
func NewAuthorizer(sm *schema.Map, resolve MembershipResolver) *Authorizer {
	if resolve == nil {
		resolve = DefaultMembershipResolver
	}
	return &Authorizer{schema: sm, resolve: resolve}
}

// Decide runs full evaluation (SPEC_FULL.md §4.2's is_authorized): a
// concrete principal, action and resource are all known, so cedar-go
// decides definitively.
func (a *Authorizer) Decide(store *PolicyStore, principal, action, resource cedartypes.EntityUID, entities cedartypes.EntityGetter) (cedartypes.Decision, cedartypes.Diagnostic) {
	req := cedar.Request{
		Principal: principal,
		Action:    action,
		Resource:  resource,
		Context:   cedartypes.Record{},
	}
	return cedar.Authorize(store.Cedar(), entities, req)
}

// Authorize wraps Decide, translating a Deny into the ErrAuthDenied error
// every dispatcher handler returns on denial.
func (a *Authorizer) Authorize(store *PolicyStore, principal, action, resource cedartypes.EntityUID, entities cedartypes.EntityGetter) *ttypes.Error {
	decision, _ := a.Decide(store, principal, action, resource, entities)
	if decision != cedartypes.Allow {
		return ttypes.AuthDenied(fmt.Sprintf("%s may not %s %s", principal.String(), action.ID, resource.String()))
	}
	return nil
}

// ResidualFragment runs partial evaluation with the resource left unknown
// (SPEC_FULL.md §4.3's get_all_authorized_lists) and lowers the resulting
// residual policy set to a SQL Fragment via the Residual-to-SQL
// Translator, scoped to the named resource entity type.
func (a *Authorizer) ResidualFragment(store *PolicyStore, principal, action cedartypes.EntityUID, resourceType string, entities cedartypes.EntityGetter) (Fragment, error) {
	resourceSchema, ok := a.schema.Get(resourceType)
	if !ok {
		return Fragment{}, fmt.Errorf("no entity schema for resource type %q", resourceType)
	}

	env := eval.Env{
		Principal: principal,
		Action:    action,
		Resource:  eval.Variable("resource"),
		Context:   cedartypes.Record{},
		Entities:  entities,
	}

	residuals := eval.PartialPolicySet(env, store.ASTMap())
	return TranslateResidualSet(residuals, resourceSchema, a.resolve)
}
