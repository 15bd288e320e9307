package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarget_OnAndEmit(t *testing.T) {
	target := NewTarget()

	var got []string
	target.On(Update, func(ev Event) { got = append(got, ev.Detail.(string)) })

	target.Emit(Event{Kind: Update, Detail: "first"})
	target.Emit(Event{Kind: Update, Detail: "second"})

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestTarget_MultipleListenersRunInRegistrationOrder(t *testing.T) {
	target := NewTarget()

	var order []int
	target.On(Seeked, func(Event) { order = append(order, 1) })
	target.On(Seeked, func(Event) { order = append(order, 2) })

	target.Emit(Event{Kind: Seeked})
	require.Equal(t, []int{1, 2}, order)
}

func TestTarget_UnsubscribeStopsFutureCalls(t *testing.T) {
	target := NewTarget()

	calls := 0
	unsubscribe := target.On(Ended, func(Event) { calls++ })

	target.Emit(Event{Kind: Ended})
	unsubscribe()
	target.Emit(Event{Kind: Ended})

	assert.Equal(t, 1, calls)
}

func TestTarget_EmitWithNoListenersIsNoOp(t *testing.T) {
	target := NewTarget()
	assert.NotPanics(t, func() { target.Emit(Event{Kind: SourceOpen}) })
}

func TestKind_StringMatchesSpecEventNames(t *testing.T) {
	assert.Equal(t, "sourceopen", SourceOpen.String())
	assert.Equal(t, "updateend", UpdateEnd.String())
	assert.Equal(t, "canplaythrough", CanPlayThrough.String())
	assert.Equal(t, "ended", Ended.String())
}
