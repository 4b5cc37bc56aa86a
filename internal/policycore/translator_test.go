package policycore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cedartypes "github.com/cedar-policy/cedar-go/types"
	"github.com/cedar-policy/cedar-go/x/exp/ast"
	"github.com/cedar-policy/cedar-go/x/exp/eval"

	"github.com/tinytodo/authz-server/internal/schema"
)

var (
	alice   = cedartypes.NewEntityUID("User", "alice")
	getList = cedartypes.NewEntityUID("Action", "GetList")
)

func listSchema(t *testing.T) schema.EntityType {
	t.Helper()
	list, ok := schema.Default().Get("List")
	require.True(t, ok)
	return list
}

func residualEnv() eval.Env {
	return eval.Env{
		Principal: alice,
		Action:    getList,
		Resource:  eval.Variable("resource"),
		Context:   cedartypes.Record{},
	}
}

// A policy with no conditions at all is unconditionally true once its
// scope matches, so the OR-combined fragment should short-circuit on the
// concrete decision rather than hand back a residual clause.
func TestTranslateResidualSetConcretePermit(t *testing.T) {
	policies := map[cedartypes.PolicyID]*ast.Policy{
		"p0": ast.Permit(),
	}
	rs := eval.PartialPolicySet(residualEnv(), policies)
	frag, err := TranslateResidualSet(rs, listSchema(t), DefaultMembershipResolver)
	require.NoError(t, err)
	assert.Equal(t, "1", frag.Where)
}

func TestTranslateResidualSetNoPermits(t *testing.T) {
	rs := eval.PartialPolicySet(residualEnv(), map[cedartypes.PolicyID]*ast.Policy{})
	frag, err := TranslateResidualSet(rs, listSchema(t), DefaultMembershipResolver)
	require.NoError(t, err)
	assert.Equal(t, "0", frag.Where)
}

// resource.owner == alice lowers to an equality against the schema's
// "owner" column, with the literal bound as a placeholder argument.
func TestTranslateEqualsOnResourceAttribute(t *testing.T) {
	policies := map[cedartypes.PolicyID]*ast.Policy{
		"p0": ast.Permit().When(ast.Resource().Access("owner").Equal(ast.Value(alice))),
	}
	rs := eval.PartialPolicySet(residualEnv(), policies)
	frag, err := TranslateResidualSet(rs, listSchema(t), DefaultMembershipResolver)
	require.NoError(t, err)
	assert.Contains(t, frag.Where, "resource.owner")
	assert.Contains(t, frag.Where, "=")
	require.Len(t, frag.Args, 1)
	assert.Equal(t, string(alice.ID), frag.Args[0])
}

// Two permit policies OR together; one contributing a concrete-true
// dominates the whole predicate.
func TestTranslateResidualSetShortCircuitsOnAnyTruePermit(t *testing.T) {
	policies := map[cedartypes.PolicyID]*ast.Policy{
		"p0": ast.Permit().When(ast.Resource().Access("owner").Equal(ast.Value(alice))),
		"p1": ast.Permit(),
	}
	rs := eval.PartialPolicySet(residualEnv(), policies)
	frag, err := TranslateResidualSet(rs, listSchema(t), DefaultMembershipResolver)
	require.NoError(t, err)
	assert.Equal(t, "1", frag.Where)
}

// `unless resource.owner == alice` negates the translated condition.
func TestTranslateUnlessNegatesCondition(t *testing.T) {
	policies := map[cedartypes.PolicyID]*ast.Policy{
		"p0": ast.Permit().Unless(ast.Resource().Access("owner").Equal(ast.Value(alice))),
	}
	rs := eval.PartialPolicySet(residualEnv(), policies)
	frag, err := TranslateResidualSet(rs, listSchema(t), DefaultMembershipResolver)
	require.NoError(t, err)
	assert.Contains(t, frag.Where, "NOT")
}

// `principal in resource.readers` lowers to an EXISTS subquery over
// team_memberships, since readers is an attribute holding a Team EUID.
func TestTranslateMembershipLowersToExists(t *testing.T) {
	policies := map[cedartypes.PolicyID]*ast.Policy{
		"p0": ast.Permit().When(ast.Principal().In(ast.Resource().Access("readers"))),
	}
	rs := eval.PartialPolicySet(residualEnv(), policies)
	frag, err := TranslateResidualSet(rs, listSchema(t), DefaultMembershipResolver)
	require.NoError(t, err)
	assert.Contains(t, frag.Where, "EXISTS")
	assert.Contains(t, frag.Where, "team_memberships")
	require.Len(t, frag.Args, 1)
	assert.Equal(t, string(alice.ID), frag.Args[0])
}

// `resource in resource` is the reflexive idiom a policy may use for
// "no further ancestor constraint"; it must lower to a tautology rather
// than an EXISTS subquery.
func TestTranslateResourceInResourceIsTautology(t *testing.T) {
	sql, args, err := translateMembership(
		ast.NodeTypeVariable{Name: "resource"},
		ast.NodeTypeVariable{Name: "resource"},
		listSchema(t),
		DefaultMembershipResolver,
	)
	require.NoError(t, err)
	assert.Equal(t, "1", sql)
	assert.Empty(t, args)
}

// if/then/else lowers to a CASE WHEN expression, with each branch
// recursively translated.
func TestTranslateIfThenElse(t *testing.T) {
	policies := map[cedartypes.PolicyID]*ast.Policy{
		"p0": ast.Permit().When(
			ast.IfThenElse(
				ast.Resource().Access("owner").Equal(ast.Value(alice)),
				ast.True(),
				ast.False(),
			),
		),
	}
	rs := eval.PartialPolicySet(residualEnv(), policies)
	frag, err := TranslateResidualSet(rs, listSchema(t), DefaultMembershipResolver)
	require.NoError(t, err)
	assert.Contains(t, frag.Where, "CASE WHEN")
	assert.Contains(t, frag.Where, "THEN 1 ELSE 0")
}

// A resource-scope constraint other than "unconstrained" is rejected:
// this domain's policies express resource conditions only through
// when/unless clauses, never scope equality, since the resource is
// unknown at translation time.
func TestTranslatePolicyConditionsRejectsResourceScopeEquality(t *testing.T) {
	p := ast.Permit().ResourceEq(cedartypes.NewEntityUID("List", "specific"))
	_, err := translatePolicyConditions(p, listSchema(t), DefaultMembershipResolver)
	assert.Error(t, err)
}

func TestDefaultMembershipResolverOnlyKnowsUserInTeam(t *testing.T) {
	_, _, _, ok := DefaultMembershipResolver("User", "Team")
	assert.True(t, ok)

	_, _, _, ok = DefaultMembershipResolver("Team", "List")
	assert.False(t, ok)
}
