package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	id     string
	mu     sync.Mutex
	closed bool
}

func (c *stubChannel) ID() string { return c.id }

func (c *stubChannel) Send(context.Context, []byte) error { return nil }

func (c *stubChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func ids(channels []Channel) []string {
	out := make([]string, 0, len(channels))
	for _, c := range channels {
		out = append(out, c.ID())
	}
	sort.Strings(out)
	return out
}

func TestSubscribeManyChannelsPerUser(t *testing.T) {
	reg := New()
	a, b, c := &stubChannel{id: "a"}, &stubChannel{id: "b"}, &stubChannel{id: "c"}

	_, err := reg.Subscribe("u1", a)
	require.NoError(t, err)
	_, err = reg.Subscribe("u1", b)
	require.NoError(t, err)
	_, err = reg.Subscribe("u2", c)
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b"}, ids(reg.ChannelsFor("u1")))
	require.Equal(t, []string{"c"}, ids(reg.ChannelsFor("u2")))
	require.Empty(t, reg.ChannelsFor("u3"))
	require.Equal(t, 3, reg.Len())
	require.Equal(t, 2, reg.Users())
}

func TestResubscribeReplacesPreviousUser(t *testing.T) {
	reg := New()
	a := &stubChannel{id: "a"}

	_, err := reg.Subscribe("u1", a)
	require.NoError(t, err)
	previous, err := reg.Subscribe("u2", a)
	require.NoError(t, err)

	require.Equal(t, "u1", previous)
	require.Empty(t, reg.ChannelsFor("u1"))
	require.Equal(t, []string{"a"}, ids(reg.ChannelsFor("u2")))
	require.Equal(t, 1, reg.Users())

	user, ok := reg.UserFor(a)
	require.True(t, ok)
	require.Equal(t, "u2", user)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	reg := New()
	a, b := &stubChannel{id: "a"}, &stubChannel{id: "b"}
	_, _ = reg.Subscribe("u1", a)
	_, _ = reg.Subscribe("u1", b)

	require.True(t, reg.Unsubscribe(a))
	once := ids(reg.ChannelsFor("u1"))
	require.False(t, reg.Unsubscribe(a))
	twice := ids(reg.ChannelsFor("u1"))

	require.Equal(t, once, twice)
	require.Equal(t, []string{"b"}, twice)
	require.False(t, reg.Unsubscribe(&stubChannel{id: "never"}))
}

func TestUnsubscribeLastChannelPrunesUser(t *testing.T) {
	reg := New()
	a := &stubChannel{id: "a"}
	_, _ = reg.Subscribe("u1", a)

	reg.Unsubscribe(a)
	require.Zero(t, reg.Users())
	require.Zero(t, reg.Len())
}

func TestChannelsForReturnsSnapshot(t *testing.T) {
	reg := New()
	a := &stubChannel{id: "a"}
	_, _ = reg.Subscribe("u1", a)

	snapshot := reg.ChannelsFor("u1")
	reg.Unsubscribe(a)

	require.Len(t, snapshot, 1)
	require.Empty(t, reg.ChannelsFor("u1"))
}

func TestCloseDrainsAndRefusesSubscriptions(t *testing.T) {
	reg := New()
	a, b := &stubChannel{id: "a"}, &stubChannel{id: "b"}
	_, _ = reg.Subscribe("u1", a)
	_, _ = reg.Subscribe("u2", b)

	require.NoError(t, reg.Close(context.Background()))
	require.True(t, a.closed)
	require.True(t, b.closed)
	require.Zero(t, reg.Len())

	_, err := reg.Subscribe("u1", &stubChannel{id: "c"})
	require.ErrorIs(t, err, ErrRegistryClosed)
}

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	reg := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := &stubChannel{id: fmt.Sprintf("ch-%d", i)}
			user := fmt.Sprintf("u%d", i%5)
			_, _ = reg.Subscribe(user, ch)
			_ = reg.ChannelsFor(user)
			if i%2 == 0 {
				reg.Unsubscribe(ch)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 25, reg.Len())
}
