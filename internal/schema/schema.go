// Package schema implements the Entity Schema Map (C1): a declarative,
// file-loadable registry from entity type name to its backing table,
// primary-key column, attribute columns, and ancestor link tables. Both
// the entity store (row -> entity) and the residual translator (resource
// attribute reference -> column reference) consume it.
//
// Grounded on the static descriptors in the original source's
// entitystore.rs (USERS_TABLE_INFO, TEAM_TABLE_INFO, LIST_TABLE_INFO,
// USERS_TEAM_MEMBERSHIPS, TEAM_MEMBERSHIPS), expressed here as data instead
// of code so it can also be loaded from a YAML file at startup.
package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AncestorLink names a table implementing a parent/ancestor relationship:
// rows where ChildCol = the entity's id contribute ParentCol (of
// ParentType) to its ancestor set.
type AncestorLink struct {
	Table      string `yaml:"table"`
	ChildCol   string `yaml:"child_col"`
	ParentCol  string `yaml:"parent_col"`
	ParentType string `yaml:"parent_type"`
	// Reflexive, when true, adds the entity's own EUID to its ancestor
	// set (ancestors are reflexive per SPEC_FULL.md §9).
	Reflexive bool `yaml:"reflexive"`
}

// AttributeColumn maps one SQL column to one entity attribute name. When
// the attribute holds an EUID (e.g. List.readers), EntityType names the
// referenced entity type so the residual translator can resolve
// `principal in resource.attr` against the right membership table.
type AttributeColumn struct {
	Column     string `yaml:"column"`
	Attribute  string `yaml:"attribute"`
	EntityType string `yaml:"entity_type,omitempty"`
}

// EntityType is one row of the Entity Schema Map.
type EntityType struct {
	Name       string            `yaml:"name"`
	Table      string            `yaml:"table"`
	PrimaryKey string            `yaml:"primary_key"`
	Attributes []AttributeColumn `yaml:"attributes"`
	Ancestors  []AncestorLink    `yaml:"ancestors"`
}

// Column returns the SQL column name for an entity attribute, used by the
// residual translator to lower `resource.attr` references.
func (t EntityType) Column(attribute string) (string, bool) {
	for _, a := range t.Attributes {
		if a.Attribute == attribute {
			return a.Column, true
		}
	}
	return "", false
}

// AttributeEntityType returns the entity type an attribute's value refers
// to, if the attribute holds an EUID (used to resolve the target side of
// `principal in resource.attr`).
func (t EntityType) AttributeEntityType(attribute string) (string, bool) {
	for _, a := range t.Attributes {
		if a.Attribute == attribute {
			return a.EntityType, a.EntityType != ""
		}
	}
	return "", false
}

// Map is the full Entity Schema Map, keyed by entity type name.
type Map struct {
	Types map[string]EntityType `yaml:"types"`
}

// Get looks up an entity type's schema entry.
func (m *Map) Get(typeName string) (EntityType, bool) {
	t, ok := m.Types[typeName]
	return t, ok
}

// Load parses an Entity Schema Map from a YAML file on disk.
func Load(path string) (*Map, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var m Map
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	return &m, nil
}

// Default returns the built-in TinyTodo Entity Schema Map, matching the
// SQLite DDL embedded by the entity store. Used when no schema file is
// supplied; a map returned by Load replaces it entirely and is not merged
// with it.
func Default() *Map {
	return &Map{
		Types: map[string]EntityType{
			"User": {
				Name:       "User",
				Table:      "users",
				PrimaryKey: "uid",
				Attributes: []AttributeColumn{
					{Column: "name", Attribute: "name"},
				},
				Ancestors: []AncestorLink{
					{Table: "team_memberships", ChildCol: "user_uid", ParentCol: "team_uid", ParentType: "Team"},
					{Reflexive: true},
				},
			},
			"Team": {
				Name:       "Team",
				Table:      "teams",
				PrimaryKey: "uid",
				Ancestors: []AncestorLink{
					{Table: "subteams", ChildCol: "child_team", ParentCol: "parent_team", ParentType: "Team"},
				},
			},
			"List": {
				Name:       "List",
				Table:      "lists",
				PrimaryKey: "uid",
				Attributes: []AttributeColumn{
					{Column: "owner", Attribute: "owner", EntityType: "User"},
					{Column: "name", Attribute: "name"},
					{Column: "readers", Attribute: "readers", EntityType: "Team"},
					{Column: "editors", Attribute: "editors", EntityType: "Team"},
				},
				Ancestors: []AncestorLink{
					{Reflexive: true},
				},
			},
			"Application": {
				Name: "Application",
			},
			"Action": {
				Name: "Action",
			},
		},
	}
}
