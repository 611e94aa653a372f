package sizing

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtrader/internal/models"
)

func newSizer(t *testing.T) *Sizer {
	t.Helper()
	s, err := NewSizer(DefaultPolicy())
	require.NoError(t, err)
	return s
}

func TestSizeHighConvictionScenario(t *testing.T) {
	s := newSizer(t)

	d := s.Size(10_000, models.ConvictionHigh, 0, 1.0)

	assert.InDelta(t, 300.0, d.NotionalValue, 1e-9)
	assert.Equal(t, models.ConvictionHigh, d.Conviction)
	assert.Equal(t, 10_000.0, d.MaxExposure)
	assert.False(t, d.Rejected())
}

func TestSizeConvictionScaling(t *testing.T) {
	s := newSizer(t)

	// 5000 * 3% = 150 base.
	assert.InDelta(t, 150.0, s.Size(5000, models.ConvictionHigh, 0, 1).NotionalValue, 1e-9)
	assert.InDelta(t, 99.0, s.Size(5000, models.ConvictionMedium, 0, 1).NotionalValue, 1e-9)
	assert.InDelta(t, 50.0, s.Size(5000, models.ConvictionLow, 0, 1).NotionalValue, 1e-9, "49.5 clamps up to the minimum")
}

func TestSizeClampsToMaximum(t *testing.T) {
	s := newSizer(t)
	d := s.Size(1_000_000, models.ConvictionLow, 0, 1)
	assert.Equal(t, 300.0, d.NotionalValue)
}

func TestSizeReducesToHeadroom(t *testing.T) {
	s := newSizer(t)
	d := s.Size(10_000, models.ConvictionHigh, 9_880, 1)
	assert.InDelta(t, 120.0, d.NotionalValue, 1e-9)
	assert.LessOrEqual(t, d.CurrentExposure+d.NotionalValue, d.MaxExposure)
}

func TestSizeRejects(t *testing.T) {
	s := newSizer(t)
	tests := []struct {
		name       string
		account    float64
		conviction models.Conviction
		exposure   float64
		pct        float64
	}{
		{"exposure exhausted", 10_000, models.ConvictionHigh, 10_000, 1},
		{"exposure over budget", 10_000, models.ConvictionHigh, 12_000, 1},
		{"headroom below minimum", 10_000, models.ConvictionHigh, 9_970, 1},
		{"zero account", 0, models.ConvictionHigh, 0, 1},
		{"negative account", -100, models.ConvictionHigh, 0, 1},
		{"nan account", math.NaN(), models.ConvictionHigh, 0, 1},
		{"negative exposure", 10_000, models.ConvictionHigh, -1, 1},
		{"zero pct", 10_000, models.ConvictionHigh, 0, 0},
		{"unknown conviction", 10_000, models.Conviction("MAYBE"), 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := s.Size(tt.account, tt.conviction, tt.exposure, tt.pct)
			assert.True(t, d.Rejected())
			assert.Zero(t, d.NotionalValue)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestSizeInvariantsHoldForRandomInputs(t *testing.T) {
	s := newSizer(t)
	p := s.Policy()
	rng := rand.New(rand.NewSource(42))
	convictions := []models.Conviction{models.ConvictionHigh, models.ConvictionMedium, models.ConvictionLow}

	for i := 0; i < 5000; i++ {
		account := rng.Float64() * 50_000
		exposure := rng.Float64() * account * 1.2
		pct := rng.Float64()*1.5 + 0.01
		c := convictions[rng.Intn(len(convictions))]

		d := s.Size(account, c, exposure, pct)
		if d.NotionalValue == 0 {
			continue
		}
		require.GreaterOrEqual(t, d.NotionalValue, p.MinPositionValue, "case %d: %+v", i, d)
		require.LessOrEqual(t, d.NotionalValue, p.MaxPositionValue, "case %d: %+v", i, d)
		require.LessOrEqual(t, exposure+d.NotionalValue, d.MaxExposure+1e-9, "case %d: %+v", i, d)
	}
}

func TestNewSizerValidatesPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.MaxRiskPerTrade = 0
	_, err := NewSizer(p)
	require.Error(t, err)

	p = DefaultPolicy()
	p.MaxPositionValue = 10
	_, err = NewSizer(p)
	require.Error(t, err)

	p = DefaultPolicy()
	delete(p.Multipliers, models.ConvictionMedium)
	_, err = NewSizer(p)
	require.Error(t, err)
}
