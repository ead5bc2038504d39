package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitReturnsResult(t *testing.T) {
	p := New("test", 2)

	f := Submit(context.Background(), p, func(ctx context.Context) (string, error) {
		return "done", nil
	})

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestSubmitPropagatesError(t *testing.T) {
	p := New("test", 1)
	boom := errors.New("boom")

	_, err := Submit(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, boom
	}).Await(context.Background())

	assert.ErrorIs(t, err, boom)
}

func TestSubmitRecoversPanic(t *testing.T) {
	p := New("network", 1)

	_, err := Submit(context.Background(), p, func(ctx context.Context) (int, error) {
		panic("upstream exploded")
	}).Await(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "network pool")

	// The slot must have been released
	v, err := Submit(context.Background(), p, func(ctx context.Context) (int, error) {
		return 7, nil
	}).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 3
	p := New("bounded", size)

	var running, peak atomic.Int32
	release := make(chan struct{})

	futures := make([]*Future[struct{}], 0, 10)
	for i := 0; i < 10; i++ {
		futures = append(futures, Submit(context.Background(), p, func(ctx context.Context) (struct{}, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return struct{}{}, nil
		}))
	}

	require.Eventually(t, func() bool { return running.Load() == size }, time.Second, 5*time.Millisecond)
	close(release)

	for _, f := range futures {
		_, err := f.Await(context.Background())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(size))
}

func TestSubmitHonoursContextWhileWaiting(t *testing.T) {
	p := New("busy", 1)
	block := make(chan struct{})
	started := make(chan struct{})
	defer close(block)

	Submit(context.Background(), p, func(ctx context.Context) (int, error) {
		close(started)
		<-block
		return 0, nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	_, err := Submit(ctx, p, func(ctx context.Context) (int, error) {
		ran.Store(true)
		return 1, nil
	}).Await(context.Background())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran.Load())
}

func TestThenRunsAfterPredecessor(t *testing.T) {
	network := New("network", 1)
	storage := New("storage", 1)

	var order []string
	first := Submit(context.Background(), network, func(ctx context.Context) (string, error) {
		time.Sleep(10 * time.Millisecond)
		order = append(order, "network")
		return "answer", nil
	})

	second := Then(context.Background(), first, storage, func(ctx context.Context, v string, err error) (string, error) {
		order = append(order, "storage")
		return v + " stored", err
	})

	v, err := second.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "answer stored", v)
	assert.Equal(t, []string{"network", "storage"}, order)
}

func TestThenReceivesPredecessorError(t *testing.T) {
	p := New("p", 1)
	boom := errors.New("boom")

	first := Submit(context.Background(), p, func(ctx context.Context) (string, error) {
		return "", boom
	})
	v, err := Then(context.Background(), first, p, func(ctx context.Context, _ string, err error) (string, error) {
		if errors.Is(err, boom) {
			return "recovered", nil
		}
		return "", errors.New("predecessor error not delivered")
	}).Await(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestAwaitGivesUpOnContext(t *testing.T) {
	p := New("slow", 1)
	block := make(chan struct{})
	defer close(block)

	f := Submit(context.Background(), p, func(ctx context.Context) (int, error) {
		<-block
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolved(t *testing.T) {
	f := Resolved(42, nil)
	select {
	case <-f.Done():
	default:
		t.Fatal("resolved future should be done")
	}
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestActiveGauge(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_pool_active"})
	p := New("gauged", 1, WithActiveGauge(g))

	block := make(chan struct{})
	f := Submit(context.Background(), p, func(ctx context.Context) (int, error) {
		<-block
		return 0, nil
	})

	require.Eventually(t, func() bool { return testutil.ToFloat64(g) == 1 }, time.Second, 5*time.Millisecond)
	close(block)
	_, _ = f.Await(context.Background())
	require.Eventually(t, func() bool { return testutil.ToFloat64(g) == 0 }, time.Second, 5*time.Millisecond)
}

func TestNewClampsSize(t *testing.T) {
	assert.Equal(t, int64(1), New("tiny", 0).Size())
	assert.Equal(t, "tiny", New("tiny", 0).Name())
}
