package userstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthRequiredDerivedFromSize(t *testing.T) {
	t0 := New(nil)
	require.False(t, t0.AuthRequired())

	require.NoError(t, t0.Add("u", "p"))
	require.True(t, t0.AuthRequired())

	require.True(t, t0.Del("u"))
	require.False(t, t0.AuthRequired())
}

func TestAddReplacesExistingName(t *testing.T) {
	tbl := New([]Credential{{Name: "u", Password: "p1"}})
	require.NoError(t, tbl.Add("u", "p2"))
	require.True(t, tbl.Check("u", "p2"))
	require.False(t, tbl.Check("u", "p1"))
	require.Equal(t, 1, tbl.Len(), "Add on an existing name replaces, not appends")
}

func TestTableBounded(t *testing.T) {
	tbl := New(nil)
	for i := 0; i < MaxUsers; i++ {
		require.NoError(t, tbl.Add(string(rune('a'+i)), "x"))
	}
	require.Error(t, tbl.Add("overflow", "x"))
}

func TestDelMissing(t *testing.T) {
	tbl := New(nil)
	require.False(t, tbl.Del("nobody"))
}
