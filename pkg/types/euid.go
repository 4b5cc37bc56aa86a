// Package types holds the shared domain vocabulary of the TinyTodo
// authorization server: entity identifiers, the List/Task/User/Team
// domain model, the closed command/response tagged unions accepted by
// the Policy Decision Core, and the error taxonomy it reports.
package types

import (
	"github.com/cedar-policy/cedar-go/types"
)

// EUID is a typed entity identifier, a (type, id) pair with canonical
// textual form Type::"id". It is exactly cedar-go's EntityUID: the policy
// engine's own identifier type is the one ERL, translator and dispatcher
// all pass around, so no separate wrapper type is introduced.
type EUID = types.EntityUID

// Well-known entity type names used throughout the schema, entity store
// and translator.
const (
	TypeApplication = "Application"
	TypeUser        = "User"
	TypeTeam        = "Team"
	TypeList        = "List"
	TypeAction      = "Action"
)

// ApplicationEUID is the process-wide singleton that is a parent of every
// user and team, mirroring the Rust original's APPLICATION_TINY_TODO.
var ApplicationEUID = types.NewEntityUID(TypeApplication, "TinyTodo")

// Action EUIDs, one per operation that passes through the authorizer.
var (
	ActionCreateList = types.NewEntityUID(TypeAction, "CreateList")
	ActionGetList    = types.NewEntityUID(TypeAction, "GetList")
	ActionUpdateList = types.NewEntityUID(TypeAction, "UpdateList")
	ActionDeleteList = types.NewEntityUID(TypeAction, "DeleteList")
	ActionCreateTask = types.NewEntityUID(TypeAction, "CreateTask")
	ActionUpdateTask = types.NewEntityUID(TypeAction, "UpdateTask")
	ActionDeleteTask = types.NewEntityUID(TypeAction, "DeleteTask")
	ActionGetLists   = types.NewEntityUID(TypeAction, "GetLists")
	ActionEditShare  = types.NewEntityUID(TypeAction, "EditShare")
)

// NewEUID builds an EUID from an entity type name and an opaque id.
func NewEUID(typ, id string) EUID {
	return types.NewEntityUID(types.EntityType(typ), types.String(id))
}
