// Package entitystore implements the Entity Resolution Layer (C2) and the
// Request-Scoped Entity Cache (C3) on top of SQLite. It is the policy
// engine's entity source: Store implements cedar-go's types.EntityGetter
// directly, and its mutation methods are the only place SQL is written in
// this codebase (besides the residual translator's generated SELECTs).
//
// Table names, column layouts and mutation SQL shapes are grounded almost
// line-for-line on the original source's entitystore.rs.
package entitystore

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	cedartypes "github.com/cedar-policy/cedar-go/types"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tinytodo/authz-server/internal/schema"
	ttypes "github.com/tinytodo/authz-server/pkg/types"
)

// ddl is the static schema applied once at Open. There is no migration
// framework: the original source's entity store is raw SQL with no
// versioning, and this system has exactly one schema revision.
const ddl = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS users (
	uid  TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS teams (
	uid TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS team_memberships (
	user_uid TEXT NOT NULL,
	team_uid TEXT NOT NULL,
	PRIMARY KEY (user_uid, team_uid)
);

CREATE TABLE IF NOT EXISTS subteams (
	child_team  TEXT NOT NULL,
	parent_team TEXT NOT NULL,
	PRIMARY KEY (child_team, parent_team)
);

CREATE TABLE IF NOT EXISTS lists (
	uid     TEXT PRIMARY KEY,
	owner   TEXT NOT NULL,
	name    TEXT NOT NULL,
	readers TEXT NOT NULL,
	editors TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL,
	state    BOOLEAN NOT NULL,
	list_uid TEXT NOT NULL REFERENCES lists(uid) ON DELETE CASCADE
);
`

// Store is the SQLite-backed entity store. It owns its database
// connection for the lifetime of the process; the Policy Decision Core is
// its only caller.
type Store struct {
	db     *sql.DB
	schema *schema.Map
}

// Open opens (creating if absent) the SQLite database at path and applies
// the static DDL.
func Open(path string, sm *schema.Map) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, ttypes.IOError(fmt.Errorf("open sqlite: %w", err))
	}
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, ttypes.SQLError(fmt.Errorf("apply schema: %w", err))
	}
	if sm == nil {
		sm = schema.Default()
	}
	return &Store{db: db, schema: sm}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements cedar-go's types.EntityGetter: the read-through adapter
// the policy engine uses to resolve both the Principal/Resource of a
// concrete request and any entity a policy condition transitively needs.
//
// A missing row returns (Entity{}, false) -- "not found" is not an error;
// translating that into NoSuchEntity for a user-supplied identifier is the
// dispatcher's job, not this layer's.
func (s *Store) Get(uid cedartypes.EntityUID) (cedartypes.Entity, bool) {
	switch string(uid.Type) {
	case ttypes.TypeUser:
		return s.getUserEntity(uid)
	case ttypes.TypeTeam:
		return s.getTeamEntity(uid)
	case ttypes.TypeList:
		return s.getListEntity(uid)
	case ttypes.TypeApplication:
		return applicationEntity(), true
	case ttypes.TypeAction:
		return actionEntity(uid), true
	default:
		return cedartypes.Entity{}, false
	}
}

func applicationEntity() cedartypes.Entity {
	return cedartypes.Entity{
		UID:        ttypes.ApplicationEUID,
		Attributes: cedartypes.Record{},
		Parents:    cedartypes.EntityUIDSet{},
	}
}

func actionEntity(uid cedartypes.EntityUID) cedartypes.Entity {
	return cedartypes.Entity{
		UID:        uid,
		Attributes: cedartypes.Record{},
		Parents:    cedartypes.EntityUIDSet{},
	}
}

func (s *Store) getUserEntity(uid cedartypes.EntityUID) (cedartypes.Entity, bool) {
	return s.getEntityByDescriptor(uid, ttypes.TypeUser)
}

func (s *Store) getTeamEntity(uid cedartypes.EntityUID) (cedartypes.Entity, bool) {
	return s.getEntityByDescriptor(uid, ttypes.TypeTeam)
}

func (s *Store) getListEntity(uid cedartypes.EntityUID) (cedartypes.Entity, bool) {
	return s.getEntityByDescriptor(uid, ttypes.TypeList)
}

// getEntityByDescriptor builds a cedar-go Entity for a row, entirely driven
// by the Entity Schema Map (C1) entry for typeName: the row is fetched by
// Table/PrimaryKey, each AttributeColumn becomes one Attributes entry (an
// EUID reference when EntityType is set, a plain string otherwise), and
// each AncestorLink contributes the rows of its join table -- or, when
// Reflexive, the entity's own uid -- to the Parents set. Every entity is
// additionally a descendant of the Application singleton, mirroring the
// original source's implicit global root.
//
// This is the generic counterpart of the original's EntitySQLInfo.make_entity.
func (s *Store) getEntityByDescriptor(uid cedartypes.EntityUID, typeName string) (cedartypes.Entity, bool) {
	et, ok := s.schema.Get(typeName)
	if !ok {
		return cedartypes.Entity{}, false
	}

	cols := make([]string, 0, len(et.Attributes)+1)
	cols = append(cols, et.PrimaryKey)
	for _, a := range et.Attributes {
		cols = append(cols, a.Column)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, strings.Join(cols, ", "), et.Table, et.PrimaryKey)

	vals := make([]string, len(cols))
	dest := make([]any, len(cols))
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := s.db.QueryRow(query, string(uid.ID)).Scan(dest...); err != nil {
		return cedartypes.Entity{}, false
	}

	attrs := cedartypes.RecordMap{}
	for i, a := range et.Attributes {
		val := vals[i+1]
		if a.EntityType != "" {
			attrs[a.Attribute] = ttypes.NewEUID(a.EntityType, val)
		} else {
			attrs[a.Attribute] = cedartypes.String(val)
		}
	}

	parents := []cedartypes.EntityUID{ttypes.ApplicationEUID}
	for _, anc := range et.Ancestors {
		if anc.Reflexive {
			parents = append(parents, uid)
			continue
		}
		linked, err := s.ancestorLinks(uid, anc)
		if err != nil {
			return cedartypes.Entity{}, false
		}
		parents = append(parents, linked...)
	}

	return cedartypes.Entity{
		UID:        uid,
		Attributes: cedartypes.NewRecord(attrs),
		Parents:    cedartypes.NewEntityUIDSet(parents...),
	}, true
}

// ancestorLinks queries one AncestorLink join table for uid's parents.
func (s *Store) ancestorLinks(uid cedartypes.EntityUID, anc schema.AncestorLink) ([]cedartypes.EntityUID, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, anc.ParentCol, anc.Table, anc.ChildCol)
	rows, err := s.db.Query(query, string(uid.ID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cedartypes.EntityUID
	for rows.Next() {
		var parentUID string
		if err := rows.Scan(&parentUID); err != nil {
			return nil, err
		}
		out = append(out, ttypes.NewEUID(anc.ParentType, parentUID))
	}
	return out, rows.Err()
}

// GetList fetches a List's row plus its ordered tasks. Returns
// NoSuchEntity if the list does not exist.
func (s *Store) GetList(uid cedartypes.EntityUID) (ttypes.List, error) {
	var owner, name, readers, editors string
	err := s.db.QueryRow(`SELECT owner, name, readers, editors FROM lists WHERE uid = ?`, string(uid.ID)).
		Scan(&owner, &name, &readers, &editors)
	if err == sql.ErrNoRows {
		return ttypes.List{}, ttypes.NoSuchEntity(uid)
	}
	if err != nil {
		return ttypes.List{}, ttypes.SQLError(err)
	}

	tasks, err := s.getTasks(uid)
	if err != nil {
		return ttypes.List{}, err
	}

	return ttypes.List{
		UID:     uid,
		Owner:   ttypes.NewEUID(ttypes.TypeUser, owner),
		Name:    name,
		Tasks:   tasks,
		Readers: ttypes.NewEUID(ttypes.TypeTeam, readers),
		Editors: ttypes.NewEUID(ttypes.TypeTeam, editors),
	}, nil
}

func (s *Store) getTasks(listUID cedartypes.EntityUID) ([]ttypes.Task, error) {
	rows, err := s.db.Query(`SELECT ROWID, name, state FROM tasks WHERE list_uid = ?`, string(listUID.ID))
	if err != nil {
		return nil, ttypes.SQLError(err)
	}
	defer rows.Close()

	var tasks []ttypes.Task
	for rows.Next() {
		var id int64
		var name string
		var state bool
		if err := rows.Scan(&id, &name, &state); err != nil {
			return nil, ttypes.SQLError(err)
		}
		tasks = append(tasks, ttypes.Task{ID: id, Name: name, State: ttypes.TaskState(state)})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// CreateUser inserts a user row. Used by test fixtures and administrative
// seeding; there is no end-user "create user" command (principals are
// supplied by the out-of-scope transport layer).
func (s *Store) CreateUser(name string) (cedartypes.EntityUID, error) {
	id := uuid.NewString()
	if _, err := s.db.Exec(`INSERT INTO users (uid, name) VALUES (?, ?)`, id, name); err != nil {
		return cedartypes.EntityUID{}, ttypes.SQLError(err)
	}
	return ttypes.NewEUID(ttypes.TypeUser, id), nil
}

// CreateTeam inserts a fresh, parent-less team row, mirroring the
// original's create_team (Uuid::new_v4()).
func (s *Store) CreateTeam() (cedartypes.EntityUID, error) {
	id := uuid.NewString()
	if _, err := s.db.Exec(`INSERT INTO teams (uid) VALUES (?)`, id); err != nil {
		return cedartypes.EntityUID{}, ttypes.SQLError(err)
	}
	return ttypes.NewEUID(ttypes.TypeTeam, id), nil
}

// CreateList creates a List row together with its reader and editor
// teams in one transaction, so Invariant 1 (every List's readers/editors
// reference existing teams) holds the instant CreateList returns -- the
// Rust original's commented-out List::new constructor, implemented here
// per SPEC_FULL.md's supplemented-features note.
func (s *Store) CreateList(owner cedartypes.EntityUID, name string) (cedartypes.EntityUID, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return cedartypes.EntityUID{}, ttypes.SQLError(err)
	}
	defer tx.Rollback()

	readersID := uuid.NewString()
	editorsID := uuid.NewString()
	if _, err := tx.Exec(`INSERT INTO teams (uid) VALUES (?)`, readersID); err != nil {
		return cedartypes.EntityUID{}, ttypes.SQLError(err)
	}
	if _, err := tx.Exec(`INSERT INTO teams (uid) VALUES (?)`, editorsID); err != nil {
		return cedartypes.EntityUID{}, ttypes.SQLError(err)
	}

	listID := uuid.NewString()
	if _, err := tx.Exec(
		`INSERT INTO lists (uid, owner, name, readers, editors) VALUES (?, ?, ?, ?, ?)`,
		listID, string(owner.ID), name, readersID, editorsID,
	); err != nil {
		return cedartypes.EntityUID{}, ttypes.SQLError(err)
	}

	if err := tx.Commit(); err != nil {
		return cedartypes.EntityUID{}, ttypes.SQLError(err)
	}
	return ttypes.NewEUID(ttypes.TypeList, listID), nil
}

// UpdateList renames a list.
func (s *Store) UpdateList(list cedartypes.EntityUID, name string) error {
	res, err := s.db.Exec(`UPDATE lists SET name = ? WHERE uid = ?`, name, string(list.ID))
	if err != nil {
		return ttypes.SQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ttypes.NoSuchEntity(list)
	}
	return nil
}

// DeleteList removes a list; ON DELETE CASCADE in the DDL removes its
// tasks (Invariant: "Deleting a List cascades via the SQL schema to its
// tasks").
func (s *Store) DeleteList(list cedartypes.EntityUID) error {
	res, err := s.db.Exec(`DELETE FROM lists WHERE uid = ?`, string(list.ID))
	if err != nil {
		return ttypes.SQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ttypes.NoSuchEntity(list)
	}
	return nil
}

// CreateTask inserts a task and returns the store-assigned ROWID.
func (s *Store) CreateTask(list cedartypes.EntityUID, name string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO tasks (name, state, list_uid) VALUES (?, 0, ?)`, name, string(list.ID))
	if err != nil {
		return 0, ttypes.SQLError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, ttypes.SQLError(err)
	}
	return id, nil
}

// UpdateTask sets a task's checked state.
func (s *Store) UpdateTask(list cedartypes.EntityUID, taskID int64, state ttypes.TaskState) error {
	res, err := s.db.Exec(`UPDATE tasks SET state = ? WHERE ROWID = ? AND list_uid = ?`, bool(state), taskID, string(list.ID))
	if err != nil {
		return ttypes.SQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ttypes.InvalidTaskID(list, taskID)
	}
	return nil
}

// DeleteTask removes a task row, returning InvalidTaskId if no row
// matched -- distinguishing "wrong list" or "wrong id" from success.
func (s *Store) DeleteTask(list cedartypes.EntityUID, taskID int64) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE ROWID = ? AND list_uid = ?`, taskID, string(list.ID))
	if err != nil {
		return ttypes.SQLError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ttypes.InvalidTaskID(list, taskID)
	}
	return nil
}

// AddTeamMember inserts a (user, team) membership row, implementing
// AddShare's team-mutation side per SPEC_FULL.md's supplemented-features
// note. Idempotent: re-sharing with the same role is a no-op.
func (s *Store) AddTeamMember(user, team cedartypes.EntityUID) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO team_memberships (user_uid, team_uid) VALUES (?, ?)`,
		string(user.ID), string(team.ID))
	if err != nil {
		return ttypes.SQLError(err)
	}
	return nil
}

// RemoveTeamMember deletes a (user, team) membership row, implementing
// DeleteShare's team-mutation side.
func (s *Store) RemoveTeamMember(user, team cedartypes.EntityUID) error {
	_, err := s.db.Exec(`DELETE FROM team_memberships WHERE user_uid = ? AND team_uid = ?`,
		string(user.ID), string(team.ID))
	if err != nil {
		return ttypes.SQLError(err)
	}
	return nil
}

// RunListQuery executes a caller-supplied SELECT (produced by the residual
// translator) and returns the `uid` column of every matching row as
// List-typed EUIDs. The query text comes from the residual translator,
// which never interpolates untrusted values, only schema-declared
// identifiers and bound placeholders.
func (s *Store) RunListQuery(query string, args ...any) ([]cedartypes.EntityUID, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, ttypes.SQLError(err)
	}
	defer rows.Close()

	var out []cedartypes.EntityUID
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, ttypes.SQLError(err)
		}
		out = append(out, ttypes.NewEUID(ttypes.TypeList, uid))
	}
	return out, nil
}
