package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/warden/internal/policy"
)

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	s := New(nil, filepath.Join(t.TempDir(), "state.json"))
	state, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.Registered)
	assert.Empty(t, state.Users)
}

func TestSaveThenLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s := New(nil, path)
	on := true
	in := policy.State{
		Registered: []string{"1"},
		Users: map[string]policy.UserRecord{
			"1": {Name: "One", RegistrationDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Level: "user", Warns: 1},
		},
		Groups: map[string]policy.GroupSettings{"g@group": {Antilink: &on}},
	}
	require.NoError(t, s.Save(context.Background(), in))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoadCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := New(nil, path).Load(context.Background())
	assert.Error(t, err)
}
