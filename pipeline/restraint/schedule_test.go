package restraint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mdprep/pipeline/domain"
)

func TestScheduleReturnsTablePrefix(t *testing.T) {
	want := [][2]float64{{400, 40}, {300, 30}, {200, 20}, {100, 10}, {50, 5}}

	for n := 1; n <= domain.MaxEquilibrationSteps; n++ {
		levels, err := Schedule(n)
		require.NoError(t, err, "n=%d", n)
		require.Len(t, levels, n)

		for i, lvl := range levels {
			assert.Equal(t, i+1, lvl.StepIndex, "n=%d level %d", n, i)
			assert.Equal(t, want[i][0], lvl.BackboneFC, "n=%d level %d", n, i)
			assert.Equal(t, want[i][1], lvl.SidechainFC, "n=%d level %d", n, i)
		}
	}
}

func TestScheduleThreeSteps(t *testing.T) {
	levels, err := Schedule(3)
	require.NoError(t, err)
	assert.Equal(t, []domain.RestraintLevel{
		{StepIndex: 1, BackboneFC: 400, SidechainFC: 40},
		{StepIndex: 2, BackboneFC: 300, SidechainFC: 30},
		{StepIndex: 3, BackboneFC: 200, SidechainFC: 20},
	}, levels)
}

func TestScheduleRejectsOutOfRange(t *testing.T) {
	for _, n := range []int{-1, 0, 6, 10} {
		_, err := Schedule(n)
		if err == nil {
			t.Fatalf("Schedule(%d) succeeded, want error", n)
		}
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("Schedule(%d) error = %v, want ErrConfiguration", n, err)
		}
		var cfgErr *domain.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("Schedule(%d) error is %T, want *ConfigurationError", n, err)
		}
	}
}

func TestScheduleIsMonotonic(t *testing.T) {
	levels := Table()
	for i := 1; i < len(levels); i++ {
		prev, cur := levels[i-1], levels[i]
		if cur.StepIndex <= prev.StepIndex {
			t.Errorf("step index not increasing at %d", i)
		}
		if cur.BackboneFC > prev.BackboneFC || cur.SidechainFC > prev.SidechainFC {
			t.Errorf("force constants increase at step %d: %v -> %v", cur.StepIndex, prev, cur)
		}
	}
}

func TestScheduleReturnsCopy(t *testing.T) {
	levels, err := Schedule(2)
	require.NoError(t, err)
	levels[0].BackboneFC = 1

	again, err := Schedule(2)
	require.NoError(t, err)
	assert.Equal(t, float64(400), again[0].BackboneFC)
}

func TestRestraintDefine(t *testing.T) {
	lvl := domain.RestraintLevel{StepIndex: 5, BackboneFC: 50, SidechainFC: 5}
	assert.Equal(t, "-DPOSRES -DPOSRES_FC_BB=50 -DPOSRES_FC_SC=5", lvl.Define())

	frac := domain.RestraintLevel{StepIndex: 1, BackboneFC: 400.5, SidechainFC: 40}
	assert.Equal(t, "-DPOSRES -DPOSRES_FC_BB=400.5 -DPOSRES_FC_SC=40", frac.Define())
}
