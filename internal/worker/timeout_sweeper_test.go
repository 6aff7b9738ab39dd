package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSweep struct {
	calls atomic.Int64
}

func (c *countingSweep) SweepTimeouts(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestTimeoutSweeperRunsOnInterval(t *testing.T) {
	sweep := &countingSweep{}
	s := NewTimeoutSweeper(sweep, 10*time.Millisecond, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return sweep.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestTimeoutSweeperStopHaltsLoop(t *testing.T) {
	sweep := &countingSweep{}
	s := NewTimeoutSweeper(sweep, 10*time.Millisecond, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return sweep.calls.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	settled := sweep.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, sweep.calls.Load(), settled+1)
}

func TestTimeoutSweeperRejectsDoubleStart(t *testing.T) {
	s := NewTimeoutSweeper(&countingSweep{}, time.Minute, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()))
}

type orderedWorker struct {
	name  string
	log   *[]string
	fails bool
}

func (w *orderedWorker) Start(context.Context) error {
	if w.fails {
		return assert.AnError
	}
	*w.log = append(*w.log, "start:"+w.name)
	return nil
}

func (w *orderedWorker) Stop() {
	*w.log = append(*w.log, "stop:"+w.name)
}

func (w *orderedWorker) Name() string { return w.name }

func TestManagerStopsInReverseOrder(t *testing.T) {
	var log []string
	m := NewManager(zap.NewNop())
	m.Register(&orderedWorker{name: "a", log: &log})
	m.Register(&orderedWorker{name: "b", log: &log})

	require.NoError(t, m.StartAll(context.Background()))
	m.StopAll()

	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, log)
}

func TestManagerAbortsOnStartFailure(t *testing.T) {
	var log []string
	m := NewManager(zap.NewNop())
	m.Register(&orderedWorker{name: "a", log: &log})
	m.Register(&orderedWorker{name: "b", log: &log, fails: true})
	m.Register(&orderedWorker{name: "c", log: &log})

	assert.Error(t, m.StartAll(context.Background()))
	assert.Equal(t, []string{"start:a"}, log)
}
