package reduce

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/htpc-reduce/internal/cluster"
	"github.com/banshee-data/htpc-reduce/internal/event"
	"github.com/banshee-data/htpc-reduce/internal/testutil"
)

func TestReduce_TwoClustersAlongZ(t *testing.T) {
	t.Parallel()

	ev := testutil.ZEvent(0, []float64{0, 1, 2, 20, 21}, []float64{1, 1, 1, 1, 1})
	res := NewReducer(10, nil, false).Reduce(&ev)

	require.True(t, res.OK(), "unexpected skip %s: %v", res.Skip, res.Err)
	got := res.Event
	assert.Equal(t, SkipNone, res.Skip)
	assert.Equal(t, 2, got.ClusterCount)
	assert.Equal(t, []float64{3, 2}, got.Energy)
	assert.Equal(t, []float64{1.0, 20.5}, got.ZMean)
	assert.Equal(t, []float64{0, 0}, got.XMean)
	assert.Equal(t, event.Vec3{Z: 1}, got.Primary)
	assert.Nil(t, got.GammaEnergy)
}

func TestReduce_AllZeroDepositSkips(t *testing.T) {
	t.Parallel()

	ev := testutil.ZEvent(0, []float64{0, 1, 2}, []float64{0, 0, 0})
	res := NewReducer(10, nil, false).Reduce(&ev)

	assert.False(t, res.OK())
	assert.Nil(t, res.Event)
	assert.Equal(t, SkipEmpty, res.Skip)
	assert.True(t, errors.Is(res.Err, cluster.ErrEmptyInput))
}

func TestReduce_TotalEnergyNotPositiveSkips(t *testing.T) {
	t.Parallel()

	ev := testutil.DepositingEvent(0)
	ev.TotalEnergy = testutil.Float64Ptr(0)
	res := NewReducer(10, nil, false).Reduce(&ev)
	assert.Equal(t, SkipNoDeposit, res.Skip)

	ev.TotalEnergy = testutil.Float64Ptr(2)
	res = NewReducer(10, nil, false).Reduce(&ev)
	assert.True(t, res.OK())
}

func TestReduce_MalformedSkips(t *testing.T) {
	t.Parallel()

	ev := testutil.DepositingEvent(0)
	ev.Y = ev.Y[:1]
	res := NewReducer(10, nil, false).Reduce(&ev)

	assert.Equal(t, SkipMalformed, res.Skip)
	assert.True(t, errors.Is(res.Err, event.ErrMalformed))
}

func TestReduce_MissingPrimarySkips(t *testing.T) {
	t.Parallel()

	ev := testutil.DepositingEvent(0)
	ev.Primary = nil
	res := NewReducer(10, nil, false).Reduce(&ev)

	assert.False(t, res.OK())
	assert.Equal(t, SkipMissingField, res.Skip)
	assert.ErrorIs(t, res.Err, event.ErrMissingPrimary)
	assert.Equal(t, "missing_field", res.Skip.String())
}

func TestReduce_GammaVariant(t *testing.T) {
	t.Parallel()

	r := NewReducer(10, nil, true)

	withGamma := testutil.WithGamma(testutil.DepositingEvent(0), []string{"e-", "gamma"}, []float64{0.5, 661.7})
	res := r.Reduce(&withGamma)
	require.True(t, res.OK())
	require.NotNil(t, res.Event.GammaEnergy)
	assert.Equal(t, 661.7, *res.Event.GammaEnergy)

	noGamma := testutil.WithGamma(testutil.DepositingEvent(1), []string{"e-", "e-"}, []float64{0.5, 0.4})
	res = r.Reduce(&noGamma)
	assert.Equal(t, SkipNoGamma, res.Skip)

	// Without type columns at all the lookup fails the same way.
	bare := testutil.DepositingEvent(2)
	assert.Equal(t, SkipNoGamma, r.Reduce(&bare).Skip)
}

func TestReduce_EuclideanMetric(t *testing.T) {
	t.Parallel()

	// Steps 0 and 1 share z but are 30 apart in x.
	ev := testutil.ZEvent(0, []float64{5, 5}, []float64{1, 1})
	ev.X = []float64{0, 30}

	assert.Equal(t, 1, NewReducer(10, cluster.AxisMetric{Axis: event.AxisZ}, false).Reduce(&ev).Event.ClusterCount)
	assert.Equal(t, 2, NewReducer(10, cluster.Euclidean{}, false).Reduce(&ev).Event.ClusterCount)
}

func TestSkipReason_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "empty", SkipEmpty.String())
	assert.Equal(t, "no_gamma", SkipNoGamma.String())
	assert.Equal(t, "unknown", SkipReason(99).String())
}
