package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStateRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		state TaskState
		str   string
	}{
		{Unchecked, "unchecked"},
		{Checked, "checked"},
	} {
		assert.Equal(t, tc.str, tc.state.String())
		parsed, ok := ParseTaskState(tc.str)
		require.True(t, ok)
		assert.Equal(t, tc.state, parsed)
	}
}

func TestParseTaskStateRejectsUnknown(t *testing.T) {
	_, ok := ParseTaskState("maybe")
	assert.False(t, ok)
}

func TestShareRoleString(t *testing.T) {
	assert.Equal(t, "reader", Reader.String())
	assert.Equal(t, "editor", Editor.String())
}

func TestNewEUIDCanonicalForm(t *testing.T) {
	uid := NewEUID(TypeList, "abc-123")
	assert.Equal(t, `List::"abc-123"`, uid.String())
}
