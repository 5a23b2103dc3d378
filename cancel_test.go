package nimi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenCancelIsIdempotent(t *testing.T) {
	tok := NewToken()
	require.False(t, tok.Cancelled())

	tok.Cancel()
	require.True(t, tok.Cancelled())

	tok.Cancel() // second call must have no additional effect (spec.md §8)
	require.True(t, tok.Cancelled())

	select {
	case <-tok.Done():
	default:
		t.Fatal("Done() channel should be closed after Cancel")
	}
}

func TestTokenChildCancelledByParent(t *testing.T) {
	parent := NewToken()
	child := parent.Child()
	require.False(t, child.Cancelled())

	parent.Cancel()
	require.True(t, child.Cancelled())
}

func TestTokenChildCancelledIndependently(t *testing.T) {
	parent := NewToken()
	childA := parent.Child()
	childB := parent.Child()

	childA.Cancel()
	require.True(t, childA.Cancelled())
	require.False(t, childB.Cancelled())
	require.False(t, parent.Cancelled())
}
