package entitystore

import (
	"testing"

	"github.com/stretchr/testify/require"

	ttypes "github.com/tinytodo/authz-server/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateListProvisionsTeamsAtomically(t *testing.T) {
	s := openTestStore(t)

	owner, err := s.CreateUser("alice")
	require.NoError(t, err)

	listUID, err := s.CreateList(owner, "groceries")
	require.NoError(t, err)

	list, err := s.GetList(listUID)
	require.NoError(t, err)
	require.Equal(t, "groceries", list.Name)
	require.Equal(t, owner, list.Owner)
	require.NotEmpty(t, list.Readers.ID)
	require.NotEmpty(t, list.Editors.ID)

	// Both teams must already exist as rows, since policies reference them
	// as entities the instant CreateList returns (Invariant 1).
	_, ok := s.getTeamEntity(list.Readers)
	require.True(t, ok)
	_, ok2 := s.getTeamEntity(list.Editors)
	require.True(t, ok2)
}

func TestDeleteListCascadesTasks(t *testing.T) {
	s := openTestStore(t)

	owner, err := s.CreateUser("bob")
	require.NoError(t, err)
	listUID, err := s.CreateList(owner, "chores")
	require.NoError(t, err)

	_, err = s.CreateTask(listUID, "wash dishes")
	require.NoError(t, err)

	require.NoError(t, s.DeleteList(listUID))

	tasks, err := s.getTasks(listUID)
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestUpdateAndDeleteTaskRejectWrongID(t *testing.T) {
	s := openTestStore(t)

	owner, err := s.CreateUser("carol")
	require.NoError(t, err)
	listUID, err := s.CreateList(owner, "work")
	require.NoError(t, err)

	taskID, err := s.CreateTask(listUID, "write report")
	require.NoError(t, err)

	require.NoError(t, s.UpdateTask(listUID, taskID, ttypes.Checked))

	tasks, err := s.getTasks(listUID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, ttypes.Checked, tasks[0].State)

	err = s.UpdateTask(listUID, taskID+999, ttypes.Checked)
	require.Error(t, err)
	terr, ok := err.(*ttypes.Error)
	require.True(t, ok)
	require.Equal(t, ttypes.ErrInvalidTaskID, terr.Code)

	err = s.DeleteTask(listUID, taskID+999)
	require.Error(t, err)
}

func TestGetUserEntityAncestorsIncludeTeamMemberships(t *testing.T) {
	s := openTestStore(t)

	user, err := s.CreateUser("dave")
	require.NoError(t, err)
	team, err := s.CreateTeam()
	require.NoError(t, err)
	require.NoError(t, s.AddTeamMember(user, team))

	entity, ok := s.Get(user)
	require.True(t, ok)
	require.True(t, entity.Parents.Contains(team))
	require.True(t, entity.Parents.Contains(ttypes.ApplicationEUID))
}

func TestGetMissingEntityReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	_, ok := s.Get(ttypes.NewEUID(ttypes.TypeUser, "nonexistent"))
	require.False(t, ok)
}

func TestRunListQueryScansUIDColumn(t *testing.T) {
	s := openTestStore(t)

	owner, err := s.CreateUser("erin")
	require.NoError(t, err)
	listUID, err := s.CreateList(owner, "travel")
	require.NoError(t, err)

	uids, err := s.RunListQuery(`SELECT uid FROM lists AS resource WHERE resource.owner = ?`, string(owner.ID))
	require.NoError(t, err)
	require.Len(t, uids, 1)
	require.Equal(t, listUID, uids[0])
}
