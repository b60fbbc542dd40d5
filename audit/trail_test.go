package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainIsContiguous(t *testing.T) {
	var sunk []Event
	trail := NewTrail(func(ev Event) { sunk = append(sunk, ev) })

	e1 := trail.Append("a1", PositionOpened, `{"position":"p1"}`)
	e2 := trail.Append("a1", MarginUpdate, `{"margin":"300"}`)
	e3 := trail.Append("a1", PositionClosed, `{"position":"p1"}`)

	assert.Empty(t, e1.PrevHash)
	assert.Equal(t, e1.Hash, e2.PrevHash)
	assert.Equal(t, e2.Hash, e3.PrevHash)
	assert.Equal(t, e3.Hash, trail.LastHash("a1"))

	require.Len(t, sunk, 3)
	assert.True(t, Verify(sunk))
}

func TestChainsAreIndependentPerAccount(t *testing.T) {
	trail := NewTrail(nil)

	a := trail.Append("a1", OrderPlaced, `{}`)
	b := trail.Append("a2", OrderPlaced, `{}`)

	assert.Empty(t, a.PrevHash)
	assert.Empty(t, b.PrevHash)
	assert.NotEqual(t, trail.LastHash("a1"), trail.LastHash("a2"))
}

func TestVerifyDetectsTampering(t *testing.T) {
	var events []Event
	trail := NewTrail(func(ev Event) { events = append(events, ev) })

	trail.Append("a1", PositionOpened, `{"qty":"0.1"}`)
	trail.Append("a1", PositionClosed, `{"qty":"0.1"}`)

	events[0].Payload = `{"qty":"99"}`
	assert.False(t, Verify(events))
}

func TestVerifyDetectsGap(t *testing.T) {
	var events []Event
	trail := NewTrail(func(ev Event) { events = append(events, ev) })

	trail.Append("a1", PositionOpened, `{}`)
	trail.Append("a1", MarginUpdate, `{}`)
	trail.Append("a1", PositionClosed, `{}`)

	gapped := []Event{events[0], events[2]}
	assert.False(t, Verify(gapped))
}

func TestSeedResumesChain(t *testing.T) {
	trail := NewTrail(nil)
	trail.Seed("a1", "deadbeef")

	ev := trail.Append("a1", MarginUpdate, `{}`)
	assert.Equal(t, "deadbeef", ev.PrevHash)
}
