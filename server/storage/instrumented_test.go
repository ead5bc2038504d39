package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/colloquy/server/dialogue"
	"github.com/teilomillet/colloquy/server/metrics"
	"github.com/teilomillet/colloquy/server/mocks"
	"github.com/teilomillet/colloquy/server/storage"
	"github.com/teilomillet/colloquy/server/storage/memory"
)

func TestInstrumentCountsOperations(t *testing.T) {
	m := metrics.NewMetrics()
	s := storage.Instrument(memory.New(), m)
	ctx := context.Background()

	_, err := s.Insert(ctx, dialogue.Record{Instruction: "i", Question: "q", Email: "a@x.com"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, dialogue.Record{Instruction: "i"})
	require.Error(t, err)
	_, err = s.FetchAll(ctx, "a@x.com")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreOperations.WithLabelValues("insert", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreOperations.WithLabelValues("insert", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreOperations.WithLabelValues("fetch_all", "ok")))
}

func TestInstrumentPassesErrorsThrough(t *testing.T) {
	boom := errors.New("boom")
	s := storage.Instrument(mocks.FailingStore(boom), metrics.NewMetrics())

	_, err := s.FetchAll(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, boom)
}

func TestInstrumentNilMetrics(t *testing.T) {
	inner := memory.New()
	assert.Same(t, inner, storage.Instrument(inner, nil))
}
