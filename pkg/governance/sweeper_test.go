package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-foundation/aegis/pkg/config"
	"github.com/aegis-foundation/aegis/pkg/telemetry"
)

func TestFleetRegistration(t *testing.T) {
	f := NewFleet("agent-b", "agent-a")
	f.Register("agent-c")
	f.Register("agent-c")
	f.Deregister("agent-b")

	ids, err := f.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a", "agent-c"}, ids)
}

func TestSweepPenalizesAndRecovers(t *testing.T) {
	source := telemetry.NewStaticSource()
	cfg := config.DefaultConfig()
	cfg.SweepFetchRate = 1000
	cfg.SweepFetchBurst = 100
	e := NewEngine(cfg, source)

	bad := healthyMetrics()
	bad.ErrorRate = 0.15
	source.Set("agent-bad", bad)
	source.Set("agent-good", healthyMetrics())

	sweeper := NewSweeper(e, NewFleet("agent-bad", "agent-good"), time.Minute)
	sweeper.Sweep(context.Background())

	p, err := e.penalties.GetByAgent(context.Background(), "agent-bad")
	require.NoError(t, err)
	require.NotNil(t, p)

	good, err := e.penalties.GetByAgent(context.Background(), "agent-good")
	require.NoError(t, err)
	assert.Nil(t, good)

	// The agent improves; the next sweep lifts the penalty.
	source.Set("agent-bad", healthyMetrics())
	sweeper.Sweep(context.Background())

	p, err = e.penalties.GetByAgent(context.Background(), "agent-bad")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSweepSkipsUnreachableAgents(t *testing.T) {
	source := telemetry.NewStaticSource()
	cfg := config.DefaultConfig()
	cfg.SweepFetchRate = 1000
	cfg.SweepFetchBurst = 100
	e := NewEngine(cfg, source)

	bad := healthyMetrics()
	bad.ErrorRate = 0.15
	source.Set("agent-reachable", bad)
	// agent-dark has no metrics registered at all.

	sweeper := NewSweeper(e, NewFleet("agent-dark", "agent-reachable"), time.Minute)
	sweeper.Sweep(context.Background())

	p, err := e.penalties.GetByAgent(context.Background(), "agent-reachable")
	require.NoError(t, err)
	assert.NotNil(t, p, "one unreachable agent must not shield the rest of the fleet")

	dark, err := e.penalties.GetByAgent(context.Background(), "agent-dark")
	require.NoError(t, err)
	assert.Nil(t, dark, "unreachable agents are skipped, never penalized")
}

func TestSweeperStopWithoutStart(t *testing.T) {
	e := NewEngine(config.DefaultConfig(), telemetry.NewStaticSource())
	sweeper := NewSweeper(e, NewFleet(), time.Minute)

	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a sweeper that was never started")
	}
}

func TestSweeperStartStop(t *testing.T) {
	source := telemetry.NewStaticSource()
	source.Set("agent-1", healthyMetrics())
	e := NewEngine(config.DefaultConfig(), source)

	sweeper := NewSweeper(e, NewFleet("agent-1"), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper.Start(ctx)
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
