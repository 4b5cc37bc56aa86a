package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchemaHasListColumns(t *testing.T) {
	sm := Default()
	list, ok := sm.Get("List")
	require.True(t, ok)

	col, ok := list.Column("owner")
	require.True(t, ok)
	assert.Equal(t, "owner", col)

	entityType, ok := list.AttributeEntityType("readers")
	require.True(t, ok)
	assert.Equal(t, "Team", entityType)
}

func TestColumnMissingAttribute(t *testing.T) {
	sm := Default()
	user, ok := sm.Get("User")
	require.True(t, ok)

	_, ok = user.Column("nonexistent")
	assert.False(t, ok)
}

func TestAttributeEntityTypeAbsentForScalarAttribute(t *testing.T) {
	sm := Default()
	list, ok := sm.Get("List")
	require.True(t, ok)

	_, ok = list.AttributeEntityType("name")
	assert.False(t, ok, "name is a plain string attribute, not an entity reference")
}

func TestGetUnknownType(t *testing.T) {
	sm := Default()
	_, ok := sm.Get("Widget")
	assert.False(t, ok)
}
