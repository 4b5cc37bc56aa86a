package policycore

import (
	"fmt"
	"strings"

	"github.com/cedar-policy/cedar-go/x/exp/schema"
	"github.com/cedar-policy/cedar-go/x/exp/validator"
)

// cedarSchemaText declares TinyTodo's entity types and actions for the
// Cedar type-checker. It is independent of the Entity Schema Map (C1),
// which the ERL and Translator consult to turn SQL rows and columns into
// entities and back -- this schema exists purely so a loaded policy set
// can be type-checked against the domain's shape at startup.
const cedarSchemaText = `
entity Application;

entity User in [Team] {
  name: String,
};

entity Team in [Team];

entity List {
  owner: User,
  name: String,
  readers: Team,
  editors: Team,
};

action CreateList appliesTo { principal: User, resource: Application };
action GetLists appliesTo { principal: User, resource: Application };
action GetList appliesTo { principal: User, resource: List };
action UpdateList appliesTo { principal: User, resource: List };
action DeleteList appliesTo { principal: User, resource: List };
action CreateTask appliesTo { principal: User, resource: List };
action UpdateTask appliesTo { principal: User, resource: List };
action DeleteTask appliesTo { principal: User, resource: List };
action EditShare appliesTo { principal: User, resource: List };
`

// ValidateAgainstSchema type-checks every policy in policies against the
// built-in TinyTodo Cedar schema. Startup must treat a non-Valid result as
// fatal (SPEC_FULL.md §4.5); policy hot-reloads do not call this, matching
// the watcher's re-parse-only reload semantics.
func ValidateAgainstSchema(policies *PolicyStore) error {
	cedarSchema, err := schema.NewFromCedar("tinytodo.cedarschema", []byte(cedarSchemaText))
	if err != nil {
		return fmt.Errorf("parse built-in cedar schema: %w", err)
	}

	result := validator.ValidatePolicies(cedarSchema, policies.Cedar())
	if !result.Valid {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.PolicyID, e.Message))
		}
		return fmt.Errorf("policy set failed schema validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}
