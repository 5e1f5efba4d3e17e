package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitterRoutesByType(t *testing.T) {
	e := NewEmitter()

	var applied, resolved, all int
	e.On(EventPenaltyApplied, func(Event) { applied++ })
	e.On(EventAppealResolved, func(Event) { resolved++ })
	e.OnAll(func(Event) { all++ })

	e.Emit(Event{Type: EventPenaltyApplied, AgentID: "agent-1"})
	e.Emit(Event{Type: EventPenaltyApplied, AgentID: "agent-2"})
	e.Emit(Event{Type: EventRecoveryCompleted, AgentID: "agent-1"})

	assert.Equal(t, 2, applied)
	assert.Equal(t, 0, resolved)
	assert.Equal(t, 3, all)
}

func TestEmitterMultipleHandlersPerType(t *testing.T) {
	e := NewEmitter()

	var got []string
	e.On(EventAppealFiled, func(ev Event) { got = append(got, "first:"+ev.AgentID) })
	e.On(EventAppealFiled, func(ev Event) { got = append(got, "second:"+ev.AgentID) })

	e.Emit(Event{Type: EventAppealFiled, AgentID: "agent-1"})

	assert.Equal(t, []string{"first:agent-1", "second:agent-1"}, got)
}

func TestNopPublisherReturnsMessageID(t *testing.T) {
	id, err := NopPublisher{}.Publish(context.Background(), PenaltyTopic, "penalty.applied", nil)
	assert.NoError(t, err)
	assert.NotEmpty(t, id)
}
