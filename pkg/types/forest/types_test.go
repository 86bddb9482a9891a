package forest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpecies(t *testing.T) {
	sp, err := ParseSpecies(" Sugar_Maple ")
	require.NoError(t, err)
	assert.Equal(t, SpeciesSugarMaple, sp)

	_, err = ParseSpecies("oak")
	assert.Error(t, err)
}

func TestParseVersionKind(t *testing.T) {
	tests := []struct {
		in   string
		want VersionKind
	}{
		{"", VersionNone},
		{"NONE", VersionNone},
		{"vigor", VersionVigor},
		{"priority", VersionHarvestPriority},
		{"harvest_priority", VersionHarvestPriority},
		{"Quality", VersionQuality},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersionKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}

	_, err := ParseVersionKind("height")
	assert.Error(t, err)
	assert.False(t, VersionKind("height").Valid())
}

func TestVersionKind_Columns(t *testing.T) {
	assert.Equal(t, 0, VersionNone.Columns())
	assert.Equal(t, 3, VersionVigor.Columns())
	assert.Equal(t, 3, VersionHarvestPriority.Columns())
	assert.Equal(t, 3, VersionQuality.Columns())
}

func TestVigorCovariate_Dummies(t *testing.T) {
	tests := []struct {
		class VigorClass
		want  []float64
	}{
		{VigorV1, []float64{0, 0, 0}},
		{VigorV2, []float64{0, 1, 0}},
		{VigorV3, []float64{1, 0, 0}},
		{VigorV4, []float64{1, 1, 1}},
	}
	for _, tt := range tests {
		c := VigorCovariate{Class: tt.class}
		assert.Equal(t, tt.want, c.Dummies(), "class %d", tt.class)
		assert.Equal(t, VersionVigor, c.Kind())
		assert.Equal(t, int(tt.class), c.Level())
	}
}

func TestReferenceDummies(t *testing.T) {
	assert.Equal(t, []float64{0, 0, 0}, PriorityCovariate{Priority: PriorityM}.Dummies())
	assert.Equal(t, []float64{1, 0, 0}, PriorityCovariate{Priority: PriorityS}.Dummies())
	assert.Equal(t, []float64{0, 0, 1}, PriorityCovariate{Priority: PriorityR}.Dummies())
	assert.Equal(t, []float64{0, 0, 0}, QualityCovariate{Grade: QualityA}.Dummies())
	assert.Equal(t, []float64{0, 1, 0}, QualityCovariate{Grade: QualityC}.Dummies())
}

func TestNewCovariate(t *testing.T) {
	c, err := NewCovariate(VersionNone, 3)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = NewCovariate(VersionQuality, 4)
	require.NoError(t, err)
	assert.Equal(t, QualityCovariate{Grade: QualityD}, c)

	c, err = NewCovariate(VersionHarvestPriority, 1)
	require.NoError(t, err)
	assert.Equal(t, VersionHarvestPriority, c.Kind())

	_, err = NewCovariate(VersionVigor, 0)
	assert.Error(t, err)
	_, err = NewCovariate(VersionVigor, 5)
	assert.Error(t, err)
	_, err = NewCovariate("height", 1)
	assert.Error(t, err)
}

func TestOutcome(t *testing.T) {
	o := NewOutcome(DefaultCategories)
	assert.Len(t, o, 5)
	assert.True(t, o.Finite())
	assert.True(t, o.NonNegative())

	c := o.Clone()
	c[0] = -1
	assert.Equal(t, 0.0, o[0])
	assert.False(t, c.NonNegative())

	c[1] = math.NaN()
	assert.False(t, c.Finite())
	assert.False(t, Outcome{math.Inf(1)}.Finite())
}
