package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const basePort = 7000

// fakeUsers registers every identity whose secret is "pw".
type fakeUsers struct {
	err error
}

func (f fakeUsers) UserExists(_ context.Context, id Identity) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return id.Secret == "pw", nil
}

func newRegistry() *Registry {
	return NewRegistry(basePort, fakeUsers{})
}

func user(name string) Identity {
	return NewIdentity(name, "pw")
}

func TestIdentity_EqualityIsByNameCaseInsensitive(t *testing.T) {
	a := NewIdentity("Ana", "pw")
	b := NewIdentity("ana", "other")

	assert.True(t, a.Is(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.False(t, a.Is(NewIdentity("bob", "pw")))
	assert.Equal(t, "Ana", a.String())
}

func TestRegistry_LogIn(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns base port first", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.LogIn(ctx, user("ana")))

		port, ok := r.Port(user("ana"))
		assert.True(t, ok)
		assert.Equal(t, basePort, port)
		assert.True(t, r.IsLoggedIn(user("ANA")))
	})

	t.Run("second login fails and keeps the port", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.LogIn(ctx, user("ana")))

		err := r.LogIn(ctx, user("Ana"))
		assert.ErrorIs(t, err, ErrAlreadyLoggedIn)

		port, _ := r.Port(user("ana"))
		assert.Equal(t, basePort, port)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("unknown identity is not registered", func(t *testing.T) {
		r := newRegistry()
		err := r.LogIn(ctx, NewIdentity("ana", "wrong"))
		assert.ErrorIs(t, err, ErrNotRegistered)
		assert.False(t, r.IsLoggedIn(user("ana")))
	})

	t.Run("catalog failure is propagated", func(t *testing.T) {
		r := NewRegistry(basePort, fakeUsers{err: assert.AnError})
		err := r.LogIn(ctx, user("ana"))
		assert.ErrorIs(t, err, assert.AnError)
		assert.False(t, errors.Is(err, ErrNotRegistered))
	})
}

func TestRegistry_DistinctAscendingPorts(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	names := []string{"a", "b", "c", "d", "e"}
	for _, n := range names {
		require.NoError(t, r.LogIn(ctx, user(n)))
	}

	for i, n := range names {
		port, ok := r.Port(user(n))
		require.True(t, ok)
		assert.Equal(t, basePort+i, port)

		owner, ok := r.Owner(port)
		require.True(t, ok)
		assert.True(t, owner.Is(user(n)))
	}
}

func TestRegistry_LogOut(t *testing.T) {
	ctx := context.Background()

	t.Run("freed port is reused lowest first", func(t *testing.T) {
		r := newRegistry()
		for _, n := range []string{"a", "b", "c"} {
			require.NoError(t, r.LogIn(ctx, user(n)))
		}

		port, err := r.LogOut(ctx, user("b"))
		require.NoError(t, err)
		assert.Equal(t, basePort+1, port)
		_, err = r.LogOut(ctx, user("a"))
		require.NoError(t, err)

		require.NoError(t, r.LogIn(ctx, user("d")))
		require.NoError(t, r.LogIn(ctx, user("e")))
		require.NoError(t, r.LogIn(ctx, user("f")))

		pd, _ := r.Port(user("d"))
		pe, _ := r.Port(user("e"))
		pf, _ := r.Port(user("f"))
		assert.Equal(t, basePort, pd)
		assert.Equal(t, basePort+1, pe)
		assert.Equal(t, basePort+3, pf)
	})

	t.Run("not logged in", func(t *testing.T) {
		r := newRegistry()
		_, err := r.LogOut(ctx, user("ana"))
		assert.ErrorIs(t, err, ErrNotLoggedIn)
	})

	t.Run("not registered", func(t *testing.T) {
		r := newRegistry()
		_, err := r.LogOut(ctx, NewIdentity("ana", "nope"))
		assert.ErrorIs(t, err, ErrNotRegistered)
	})

	t.Run("port lookup after logout", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.LogIn(ctx, user("ana")))
		_, err := r.LogOut(ctx, user("ana"))
		require.NoError(t, err)

		port, ok := r.Port(user("ana"))
		assert.False(t, ok)
		assert.Equal(t, NoPort, port)
		assert.Zero(t, r.Len())
	})
}

func TestRegistry_StreamingFlags(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	require.NoError(t, r.LogIn(ctx, user("ana")))
	port, _ := r.Port(user("ana"))

	assert.NoError(t, r.IsLocked(port))

	r.Lock(port)
	assert.ErrorIs(t, r.IsLocked(port), ErrCurrentlyStreaming)

	r.Free(port)
	r.Free(port)
	assert.NoError(t, r.IsLocked(port))

	r.Lock(9999)
	assert.NoError(t, r.IsLocked(9999), "unassigned ports cannot be locked")
}

func TestRegistry_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("second reserve fails until freed", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.LogIn(ctx, user("ana")))
		port, _ := r.Port(user("ana"))

		require.NoError(t, r.Reserve(port))
		assert.ErrorIs(t, r.Reserve(port), ErrCurrentlyStreaming)
		assert.Equal(t, 1, r.Streaming())

		r.Free(port)
		assert.NoError(t, r.Reserve(port))
	})

	t.Run("unassigned port", func(t *testing.T) {
		r := newRegistry()
		assert.ErrorIs(t, r.Reserve(basePort), ErrNotLoggedIn)
	})

	t.Run("concurrent reservations admit exactly one", func(t *testing.T) {
		r := newRegistry()
		require.NoError(t, r.LogIn(ctx, user("ana")))
		port, _ := r.Port(user("ana"))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 32 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if r.Reserve(port) == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestRegistry_LogOutWhileStreamingHoldsPortBack(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	require.NoError(t, r.LogIn(ctx, user("ana")))
	port, _ := r.Port(user("ana"))
	require.NoError(t, r.Reserve(port))

	_, err := r.LogOut(ctx, user("ana"))
	require.NoError(t, err)

	require.NoError(t, r.LogIn(ctx, user("bob")))
	bobPort, _ := r.Port(user("bob"))
	assert.NotEqual(t, port, bobPort, "a draining port must not be handed out")

	r.Free(port)
	require.NoError(t, r.LogIn(ctx, user("cid")))
	cidPort, _ := r.Port(user("cid"))
	assert.Equal(t, port, cidPort)
}

func TestRegistry_ConcurrentLoginsAreBijective(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	const n = 100
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.LogIn(ctx, user(strings.Repeat("u", i+1))))
		}()
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for i := range n {
		port, ok := r.Port(user(strings.Repeat("u", i+1)))
		require.True(t, ok)
		assert.False(t, seen[port], "port %d assigned twice", port)
		seen[port] = true
		assert.GreaterOrEqual(t, port, basePort)
		assert.Less(t, port, basePort+n)
	}
}
