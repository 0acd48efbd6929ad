package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFanOut(t *testing.T) {
	bus := New[string]()
	var a, b []string
	bus.Subscribe(func(e string) { a = append(a, e) })
	bus.Subscribe(func(e string) { b = append(b, e) })

	bus.Publish("one")
	bus.Publish("two")

	require.Equal(t, []string{"one", "two"}, a)
	require.Equal(t, []string{"one", "two"}, b)
}

func TestSubscriptionClose(t *testing.T) {
	bus := New[int]()
	var got []int
	sub := bus.Subscribe(func(e int) { got = append(got, e) })
	bus.Publish(1)
	sub.Close()
	bus.Publish(2)
	require.Equal(t, []int{1}, got)

	// Close is idempotent.
	sub.Close()
}

func TestLen(t *testing.T) {
	bus := New[int]()
	require.Equal(t, 0, bus.Len())
	sub := bus.Subscribe(func(int) {})
	require.Equal(t, 1, bus.Len())
	sub.Close()
	require.Equal(t, 0, bus.Len())
}
