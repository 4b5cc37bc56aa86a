// Package policycore implements the Residual-to-SQL Translator (C4) and
// the Policy Decision Core (C5): the two components the spec calls the
// hardest and most central parts of the system.
//
// The translator's AST walk is grounded on cedar-go's own residual-set
// machinery (x/exp/eval/residual.go), which switches over exactly the
// ast.IsNode variants this translator lowers to SQL: NodeTypeAnd/Or/Not,
// NodeTypeEquals, NodeTypeAccess, NodeTypeIn/IsIn, NodeTypeIfThenElse and
// NodeValue/NodeTypeVariable. The dispatch flow (is_authorized /
// get_all_authorized_lists) is grounded on the original source's
// context.rs.
package policycore

import (
	"fmt"
	"strings"

	cedartypes "github.com/cedar-policy/cedar-go/types"
	"github.com/cedar-policy/cedar-go/x/exp/ast"
	"github.com/cedar-policy/cedar-go/x/exp/eval"

	"github.com/tinytodo/authz-server/internal/schema"
)

// MembershipResolver maps (principal-type, target-type) to the SQL table
// implementing `in` for that pair, per SPEC_FULL.md §4.4. The translator
// never hardcodes table names; an unresolved combination aborts the
// request, since it indicates a policy referencing a relationship the
// schema doesn't declare.
type MembershipResolver func(principalType, targetType string) (table, principalCol, targetCol string, ok bool)

// DefaultMembershipResolver implements the one membership relationship
// this domain has: a User is "in" a Team via team_memberships.
func DefaultMembershipResolver(principalType, targetType string) (string, string, string, bool) {
	if principalType == "User" && targetType == "Team" {
		return "team_memberships", "user_uid", "team_uid", true
	}
	return "", "", "", false
}

// Fragment is a composable SQL WHERE predicate plus the bound arguments
// its placeholders reference, evaluated against a row aliased "resource".
type Fragment struct {
	Where string
	Args  []any
}

// TranslateResidualSet converts the result of partially evaluating a
// policy set against a known principal/action and an unknown resource
// into one Fragment. If the partial evaluator could already reach a
// concrete decision with no residual, the fragment short-circuits to the
// literal 1/0 so the caller's SQL path is identical either way.
func TranslateResidualSet(rs *eval.ResidualSet, resourceSchema schema.EntityType, resolve MembershipResolver) (Fragment, error) {
	if rs.MustDecide() {
		if rs.Decision() == cedartypes.Allow {
			return Fragment{Where: "1"}, nil
		}
		return Fragment{Where: "0"}, nil
	}

	var clauses []string
	var args []any
	for _, p := range rs.Permits {
		switch p.Kind {
		case eval.ResidualTrue:
			// A definitely-true permit makes the whole OR definitely
			// true: short circuit immediately.
			return Fragment{Where: "1"}, nil
		case eval.ResidualFalse:
			continue
		case eval.ResidualVariable:
			frag, err := translatePolicyConditions(p.Policy, resourceSchema, resolve)
			if err != nil {
				return Fragment{}, fmt.Errorf("translate policy %s: %w", p.PolicyID, err)
			}
			clauses = append(clauses, frag.Where)
			args = append(args, frag.Args...)
		case eval.ResidualError:
			return Fragment{}, fmt.Errorf("residual policy %s failed to evaluate: %s", p.PolicyID, p.Error)
		}
	}

	// Permit-if-any semantics (SPEC_FULL.md §4.4): the translator
	// OR-combines every still-relevant permit predicate. Residual forbid
	// policies are not translated: a forbid whose outcome depends on the
	// resource excludes no rows from the result.
	if len(clauses) == 0 {
		return Fragment{Where: "0"}, nil
	}
	return Fragment{Where: "(" + strings.Join(clauses, " OR ") + ")", Args: args}, nil
}

// translatePolicyConditions lowers one residual policy's resource scope
// (which must be unconstrained -- ast.ScopeTypeAll -- since this domain's
// policies constrain the resource only via `when`/`unless` conditions,
// never via scope equality) and its condition list to a single predicate,
// ANDing conditions together and negating `unless` clauses.
func translatePolicyConditions(p *ast.Policy, resourceSchema schema.EntityType, resolve MembershipResolver) (Fragment, error) {
	if _, ok := p.Resource.(ast.ScopeTypeAll); !ok {
		return Fragment{}, fmt.Errorf("resource scope constraints other than unconstrained are not supported by the translator")
	}

	if len(p.Conditions) == 0 {
		return Fragment{Where: "1"}, nil
	}

	var args []any
	var clauses []string
	for _, cond := range p.Conditions {
		sql, condArgs, err := translateNode(cond.Body, resourceSchema, resolve)
		if err != nil {
			return Fragment{}, err
		}
		if !cond.Condition {
			sql = "(NOT " + sql + ")"
		}
		clauses = append(clauses, sql)
		args = append(args, condArgs...)
	}

	return Fragment{Where: "(" + strings.Join(clauses, " AND ") + ")", Args: args}, nil
}

// translateNode lowers a single residual expression node to SQL, per the
// operator table in SPEC_FULL.md §4.4.
func translateNode(n ast.IsNode, rs schema.EntityType, resolve MembershipResolver) (string, []any, error) {
	switch v := n.(type) {
	case ast.NodeValue:
		return translateLiteral(v.Value)

	case ast.NodeTypeAnd:
		return translateBinary(v.Left, v.Right, "AND", rs, resolve)
	case ast.NodeTypeOr:
		return translateBinary(v.Left, v.Right, "OR", rs, resolve)
	case ast.NodeTypeNot:
		sql, args, err := translateNode(v.Arg, rs, resolve)
		if err != nil {
			return "", nil, err
		}
		return "(NOT " + sql + ")", args, nil

	case ast.NodeTypeEquals:
		return translateBinary(v.Left, v.Right, "=", rs, resolve)

	case ast.NodeTypeAccess:
		col, err := resolveResourceColumn(v.Arg, string(v.Value), rs)
		if err != nil {
			return "", nil, err
		}
		return col, nil, nil

	case ast.NodeTypeVariable:
		if v.Name == "resource" {
			return "resource." + rs.PrimaryKey, nil, nil
		}
		return "", nil, fmt.Errorf("unsupported free variable %q in residual", v.Name)

	case ast.NodeTypeIn:
		return translateMembership(v.Left, v.Right, rs, resolve)
	case ast.NodeTypeIsIn:
		return translateMembership(v.Left, v.Entity, rs, resolve)

	case ast.NodeTypeIfThenElse:
		ifSQL, ifArgs, err := translateNode(v.If, rs, resolve)
		if err != nil {
			return "", nil, err
		}
		thenSQL, thenArgs, err := translateNode(v.Then, rs, resolve)
		if err != nil {
			return "", nil, err
		}
		elseSQL, elseArgs, err := translateNode(v.Else, rs, resolve)
		if err != nil {
			return "", nil, err
		}
		sql := fmt.Sprintf("(CASE WHEN %s THEN %s ELSE %s END)", ifSQL, thenSQL, elseSQL)
		args := append(append(ifArgs, thenArgs...), elseArgs...)
		return sql, args, nil

	default:
		return "", nil, fmt.Errorf("unsupported residual node type %T", n)
	}
}

func translateBinary(left, right ast.IsNode, op string, rs schema.EntityType, resolve MembershipResolver) (string, []any, error) {
	lSQL, lArgs, err := translateNode(left, rs, resolve)
	if err != nil {
		return "", nil, err
	}
	rSQL, rArgs, err := translateNode(right, rs, resolve)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("(%s %s %s)", lSQL, op, rSQL), append(lArgs, rArgs...), nil
}

// translateLiteral lowers true/false and scalar literals to SQL, per the
// operator table's first row.
func translateLiteral(v cedartypes.Value) (string, []any, error) {
	switch val := v.(type) {
	case cedartypes.Boolean:
		if bool(val) {
			return "1", nil, nil
		}
		return "0", nil, nil
	case cedartypes.Long:
		return "?", []any{int64(val)}, nil
	case cedartypes.String:
		return "?", []any{string(val)}, nil
	case cedartypes.EntityUID:
		return "?", []any{string(val.ID)}, nil
	default:
		return "", nil, fmt.Errorf("unsupported literal type %T", v)
	}
}

// resolveResourceColumn lowers `resource.attr` to a table-qualified column
// reference via the Entity Schema Map. base must be the bare resource
// variable; nested access chains are not produced by this domain's
// policies (resource attributes are all scalars or EUIDs, never records).
func resolveResourceColumn(base ast.IsNode, attr string, rs schema.EntityType) (string, error) {
	v, ok := base.(ast.NodeTypeVariable)
	if !ok || v.Name != "resource" {
		return "", fmt.Errorf("attribute access on non-resource base is not supported by the translator")
	}
	col, ok := rs.Column(attr)
	if !ok {
		return "", fmt.Errorf("resource type %q has no attribute %q in the entity schema map", rs.Name, attr)
	}
	return "resource." + col, nil
}

// translateMembership lowers `principal in groupEntity` to an EXISTS
// subquery, and the reflexive `resource in resource` idiom to a tautology,
// per the operator table.
func translateMembership(left, right ast.IsNode, rs schema.EntityType, resolve MembershipResolver) (string, []any, error) {
	if isBareResourceVariable(left) && isBareResourceVariable(right) {
		return "1", nil, nil
	}

	principalUID, principalType, ok := literalEntityUID(left)
	if !ok {
		return "", nil, fmt.Errorf("left-hand side of 'in' must be a concrete principal once residual")
	}

	access, ok := right.(ast.NodeTypeAccess)
	if !ok {
		return "", nil, fmt.Errorf("right-hand side of 'in' must be a resource attribute access")
	}
	col, err := resolveResourceColumn(access.Arg, string(access.Value), rs)
	if err != nil {
		return "", nil, err
	}
	targetType, ok := rs.AttributeEntityType(string(access.Value))
	if !ok {
		return "", nil, fmt.Errorf("attribute %q has no declared entity type for membership resolution", access.Value)
	}

	table, principalCol, targetCol, ok := resolve(principalType, targetType)
	if !ok {
		return "", nil, fmt.Errorf("no membership table for (%s, %s): programming error", principalType, targetType)
	}

	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s = ? AND %s = %s)", table, principalCol, targetCol, col)
	return sql, []any{string(principalUID)}, nil
}

func isBareResourceVariable(n ast.IsNode) bool {
	v, ok := n.(ast.NodeTypeVariable)
	return ok && v.Name == "resource"
}

func literalEntityUID(n ast.IsNode) (cedartypes.String, string, bool) {
	v, ok := n.(ast.NodeValue)
	if !ok {
		return "", "", false
	}
	uid, ok := v.Value.(cedartypes.EntityUID)
	if !ok {
		return "", "", false
	}
	return uid.ID, string(uid.Type), true
}
