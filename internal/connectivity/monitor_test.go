package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *fakeProber) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakeProber) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func TestSetFiresOnlyOnOnlineEdge(t *testing.T) {
	m := New(&fakeProber{}, "@every 1h", time.Second, nil)
	var fired int
	m.OnOnline(func() { fired++ })

	assert.False(t, m.Online())
	m.Set(true)
	m.Set(true)
	assert.Equal(t, 1, fired)

	m.Set(false)
	m.Set(false)
	assert.False(t, m.Online())
	assert.Equal(t, 1, fired)

	m.Set(true)
	assert.Equal(t, 2, fired)
	assert.True(t, m.Online())
}

func TestListenerSeesOnlineState(t *testing.T) {
	m := New(&fakeProber{}, "@every 1h", time.Second, nil)
	var seen bool
	m.OnOnline(func() { seen = m.Online() })

	m.Set(true)
	assert.True(t, seen)
}

func TestProbeUpdatesState(t *testing.T) {
	prober := &fakeProber{}
	m := New(prober, "@every 1h", time.Second, nil)

	assert.True(t, m.Probe(context.Background()))
	assert.True(t, m.Online())

	prober.fail(errors.New("connection refused"))
	assert.False(t, m.Probe(context.Background()))
	assert.False(t, m.Online())
}

func TestStartProbesImmediately(t *testing.T) {
	prober := &fakeProber{}
	m := New(prober, "@every 1h", time.Second, nil)
	var fired atomic.Int32
	m.OnOnline(func() { fired.Add(1) })

	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, m.Online())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	m := New(&fakeProber{}, "whenever", time.Second, nil)
	assert.Error(t, m.Start(context.Background()))
}
