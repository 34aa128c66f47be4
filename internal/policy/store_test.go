package policy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryPersister struct {
	mu      sync.Mutex
	state   State
	loadErr error
	saveErr error
	saves   int
}

func (p *memoryPersister) Load(ctx context.Context) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return State{}, p.loadErr
	}
	return p.state, nil
}

func (p *memoryPersister) Save(ctx context.Context, state State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.saveErr != nil {
		return p.saveErr
	}
	p.state = state
	return nil
}

func assertInvariant(t *testing.T, s *Store) {
	t.Helper()
	missingRecord, missingRegistration := CheckInvariant(s.Snapshot())
	if len(missingRecord) != 0 || len(missingRegistration) != 0 {
		t.Fatalf("invariant broken: missing records %v, missing registrations %v", missingRecord, missingRegistration)
	}
}

func TestRegisterOnce(t *testing.T) {
	t.Parallel()

	p := &memoryPersister{}
	s := NewStore(nil, p)
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	rec, err := s.Register(context.Background(), "100", "Ana")
	require.NoError(t, err)
	assert.Equal(t, "Ana", rec.Name)
	assert.Equal(t, DefaultLevel, rec.Level)
	assert.Equal(t, fixed, rec.RegistrationDate)
	assertInvariant(t, s)

	_, err = s.Register(context.Background(), "100", "Ana again")
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	got, _ := s.User("100")
	assert.Equal(t, "Ana", got.Name)
	assert.Equal(t, 1, p.saves)
	assertInvariant(t, s)
}

func TestGroupDefaults(t *testing.T) {
	t.Parallel()

	s := NewStore(nil, nil)
	g := s.GroupSettings("g@group")
	assert.True(t, g.WelcomeEnabled())
	assert.True(t, g.GoodbyeEnabled())
	assert.False(t, g.AntilinkEnabled())
	assert.Nil(t, g.Welcome)
}

func TestSetGroupFlagDistinguishesOffFromUnset(t *testing.T) {
	t.Parallel()

	p := &memoryPersister{}
	s := NewStore(nil, p)
	ctx := context.Background()

	require.NoError(t, s.SetGroupFlag(ctx, "g@group", FlagWelcome, false))
	require.NoError(t, s.SetGroupFlag(ctx, "g@group", FlagAntilink, true))
	g := s.GroupSettings("g@group")
	require.NotNil(t, g.Welcome)
	assert.False(t, g.WelcomeEnabled())
	assert.True(t, g.AntilinkEnabled())
	assert.Nil(t, g.Goodbye)
	assert.True(t, g.GoodbyeEnabled())

	assert.ErrorIs(t, s.SetGroupFlag(ctx, "g@group", Flag("mute"), true), ErrUnknownFlag)
	assert.Equal(t, 2, p.saves)
}

func TestIncrementWarning(t *testing.T) {
	t.Parallel()

	s := NewStore(nil, &memoryPersister{})
	ctx := context.Background()
	_, err := s.IncrementWarning(ctx, "7")
	require.ErrorIs(t, err, ErrNotRegistered)

	_, err = s.Register(ctx, "7", "Bo")
	require.NoError(t, err)
	n, err := s.IncrementWarning(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, _ = s.IncrementWarning(ctx, "7")
	assert.Equal(t, 2, n)
}

func TestSaveFailureKeepsMutation(t *testing.T) {
	t.Parallel()

	p := &memoryPersister{saveErr: errors.New("disk full")}
	s := NewStore(nil, p)
	_, err := s.Register(context.Background(), "1", "A")
	require.NoError(t, err)
	assert.True(t, s.IsRegistered("1"))

	p.mu.Lock()
	p.saveErr = nil
	p.mu.Unlock()
	require.NoError(t, s.SetGroupFlag(context.Background(), "g@group", FlagGoodbye, false))
	assert.Contains(t, p.state.Users, "1")
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	t.Parallel()

	p := &memoryPersister{loadErr: errors.New("corrupt")}
	s := NewStore(nil, p)
	err := s.Load(context.Background())
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "load", perr.Op)
	assert.Equal(t, Stats{}, s.Stats())

	_, err = s.Register(context.Background(), "1", "A")
	require.NoError(t, err)
	assert.Equal(t, 1, p.saves)
}

func TestLoadRepairsDivergence(t *testing.T) {
	t.Parallel()

	p := &memoryPersister{state: State{
		Registered: []string{"a", "b"},
		Users: map[string]UserRecord{
			"b": {Name: "B", Level: DefaultLevel},
			"c": {Name: "C", Level: DefaultLevel},
		},
	}}
	s := NewStore(nil, p)
	require.NoError(t, s.Load(context.Background()))
	assertInvariant(t, s)
	assert.Equal(t, []string{"a", "b", "c"}, s.Recipients())
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()

	on, off := true, false
	in := State{
		Registered: []string{"1", "2"},
		Users: map[string]UserRecord{
			"1": {Name: "One", RegistrationDate: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Level: "user", Warns: 2},
			"2": {Name: "Two", RegistrationDate: time.Date(2024, 2, 2, 3, 4, 5, 0, time.UTC), Level: "user"},
		},
		Groups: map[string]GroupSettings{
			"g@group": {Antilink: &on, Welcome: &off},
		},
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	var out State
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestLoadsLegacyLayout(t *testing.T) {
	t.Parallel()

	raw := `{"registered":["62811"],"users":{"62811":{"name":"Rina","registrationDate":"2024-03-01T08:00:00.000Z","level":"user","warns":0}},"groups":{"123@group":{"antilink":true}}}`
	var state State
	require.NoError(t, json.Unmarshal([]byte(raw), &state))
	s := NewStore(nil, &memoryPersister{state: state})
	require.NoError(t, s.Load(context.Background()))
	assert.True(t, s.IsRegistered("62811"))
	assert.True(t, s.GroupSettings("123@group").AntilinkEnabled())
	assert.True(t, s.GroupSettings("123@group").WelcomeEnabled())
}

func TestParseFlag(t *testing.T) {
	t.Parallel()

	f, err := ParseFlag(" Welcome ")
	require.NoError(t, err)
	assert.Equal(t, FlagWelcome, f)
	_, err = ParseFlag("slowmode")
	assert.ErrorIs(t, err, ErrUnknownFlag)
}
