package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartCancelsPredecessor(t *testing.T) {

	require := require.New(t)
	r := NewRegistry()

	first, doneFirst := r.Start(context.Background(), "plan")
	second, doneSecond := r.Start(context.Background(), "plan")
	other, doneOther := r.Start(context.Background(), "surplus")

	require.ErrorIs(first.Err(), context.Canceled)
	require.NoError(second.Err())
	require.NoError(other.Err())

	// a late finish of the cancelled run keeps the newer one registered
	doneFirst()
	require.True(r.Running("plan"))

	doneSecond()
	require.False(r.Running("plan"))
	require.ErrorIs(second.Err(), context.Canceled)

	require.True(r.Cancel("surplus"))
	require.ErrorIs(other.Err(), context.Canceled)
	require.False(r.Cancel("surplus"))
	doneOther()
}

func TestCancelAll(t *testing.T) {

	require := require.New(t)
	r := NewRegistry()
	a, _ := r.Start(context.Background(), "a")
	b, _ := r.Start(context.Background(), "b")

	r.CancelAll()
	require.Error(a.Err())
	require.Error(b.Err())
	require.False(r.Running("a"))
}
