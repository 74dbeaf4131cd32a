package renamer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenameIsConsistent(t *testing.T) {
	r := New()
	a := r.Rename("IlIlOo01l", TypeVariable)
	b := r.Rename("IlIlOo01l", TypeVariable)
	assert.Equal(t, a, b)
	assert.NotEqual(t, "IlIlOo01l", a)
}

func TestRenameCountsPerType(t *testing.T) {
	r := New()
	assert.Equal(t, "var_1", r.Rename("x_mangled_one", TypeVariable))
	assert.Equal(t, "var_2", r.Rename("x_mangled_two", TypeVariable))
	assert.Equal(t, "fn_1", r.Rename("x_mangled_fn", TypeFunction))
	assert.Equal(t, "op_1", r.Rename("x_mangled_op", TypeHandler))
}

func TestLookupOriginal(t *testing.T) {
	r := New()
	readable := r.Rename("lIllIIl", TypeFunction)
	orig, ok := r.LookupOriginal(readable)
	require.True(t, ok)
	assert.Equal(t, "lIllIIl", orig)

	_, ok = r.LookupOriginal("never_generated")
	assert.False(t, ok)
}

func TestSaveLoadState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "context", "rename.state")

	r := New()
	readable := r.Rename("OOll10", TypeVariable)
	require.NoError(t, r.SaveState(path))

	fresh := New()
	require.NoError(t, fresh.LoadState(path))
	assert.Equal(t, readable, fresh.Rename("OOll10", TypeVariable))
	// Counter state survived: a new name does not collide.
	assert.Equal(t, "var_2", fresh.Rename("OOll11", TypeVariable))
}

func TestLoadStateRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.state")
	require.NoError(t, os.WriteFile(path, []byte("not gob data"), 0644))
	assert.Error(t, New().LoadState(path))
}

func TestMappingsSorted(t *testing.T) {
	r := New()
	r.Rename("zzz_mangled", TypeVariable)
	r.Rename("aaa_mangled", TypeVariable)
	lines := r.Mappings()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "aaa_mangled")
	assert.Contains(t, lines[1], "zzz_mangled")
}
