package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, name string) *dto.Metric {
	t.Helper()
	families, err := Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() == sanitize(name) {
			require.Len(t, fam.Metric, 1)
			return fam.Metric[0]
		}
	}
	t.Fatalf("metric %q not found", name)
	return nil
}

func TestCounterSameNameReturnsSameInstance(t *testing.T) {
	name := "test/counter/dedup"
	a := GetOrRegisterCounter(name, nil)
	b := GetOrRegisterCounter(name, nil)
	assert.Same(t, a, b)

	a.Inc(3)
	b.Inc(2)
	m := gather(t, name)
	assert.Equal(t, float64(5), m.GetCounter().GetValue())
}

func TestGaugeUpdateAndDelta(t *testing.T) {
	name := "test/gauge/value"
	g := NewRegisteredGauge(name, nil)
	g.Update(10)
	g.Inc(5)
	g.Dec(3)

	m := gather(t, name)
	assert.Equal(t, float64(12), m.GetGauge().GetValue())
}

func TestTimerRecordsObservations(t *testing.T) {
	name := "test/timer/latency"
	tm := NewRegisteredTimer(name, nil)
	tm.Update(10 * time.Millisecond)
	tm.UpdateSince(time.Now().Add(-5 * time.Millisecond))

	m := gather(t, name)
	assert.Equal(t, uint64(2), m.GetHistogram().GetSampleCount())
}

func TestSanitizeRewritesSlashes(t *testing.T) {
	assert.Equal(t, "worker_writeblock", sanitize("worker/writeblock"))
	assert.Equal(t, "block_from_0x1", sanitize("block/from/0x1"))
}
