package xpush

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingRegistry_ResolveOnce(t *testing.T) {
	reg := newPendingRegistry()
	fut, err := reg.register("a")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.len())

	assert.True(t, reg.resolve(NewResponse("a", "first")))
	assert.False(t, reg.resolve(NewResponse("a", "second")), "a cleared id must not resolve again")
	assert.Equal(t, 0, reg.len())

	<-fut.Done()
	resp, err := fut.result()
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Output)
}

func TestPendingRegistry_UnknownAndEmptyIDs(t *testing.T) {
	reg := newPendingRegistry()
	assert.False(t, reg.resolve(NewResponse("nobody", nil)))
	assert.False(t, reg.resolve(NewResponse("", nil)))
	assert.False(t, reg.resolve(nil))

	_, err := reg.register("")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPendingRegistry_DuplicateRegistration(t *testing.T) {
	reg := newPendingRegistry()
	_, err := reg.register("a")
	require.NoError(t, err)

	_, err = reg.register("a")
	var ie *InvalidRequestError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "a", ie.ID)
}

func TestPendingRegistry_RemoveOnlyOwnEntry(t *testing.T) {
	reg := newPendingRegistry()
	old, err := reg.register("a")
	require.NoError(t, err)
	reg.remove("a", old)

	fresh, err := reg.register("a")
	require.NoError(t, err)
	reg.remove("a", old)
	assert.Equal(t, 1, reg.len(), "a stale remove must not clear a newer waiter")

	reg.remove("a", fresh)
	assert.Equal(t, 0, reg.len())
}

func TestPendingRegistry_FailAll(t *testing.T) {
	reg := newPendingRegistry()
	futs := make([]*future, 3)
	for i := range futs {
		f, err := reg.register(fmt.Sprint(i))
		require.NoError(t, err)
		futs[i] = f
	}
	reg.failAll(ErrPusherClosed)
	assert.Equal(t, 0, reg.len())

	for _, f := range futs {
		<-f.Done()
		resp, err := f.result()
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, ErrPusherClosed)
	}
}

func TestPendingRegistry_ConcurrentResolve(t *testing.T) {
	reg := newPendingRegistry()
	const n = 200
	futs := make(map[string]*future, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("req-%d", i)
		f, err := reg.register(id)
		require.NoError(t, err)
		futs[id] = f
	}

	var wg sync.WaitGroup
	for id := range futs {
		for k := 0; k < 2; k++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				reg.resolve(NewResponse(id, id))
			}(id)
		}
	}
	wg.Wait()

	for id, f := range futs {
		<-f.Done()
		resp, err := f.result()
		require.NoError(t, err)
		assert.Equal(t, id, resp.Output)
	}
	assert.Equal(t, 0, reg.len())
}
