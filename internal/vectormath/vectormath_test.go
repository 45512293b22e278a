package vectormath

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epsilon = 1e-6

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"Identical direction", []float32{1, 0, 0}, []float32{2, 0, 0}, 1},
		{"Orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"Opposite", []float32{1, 2}, []float32{-1, -2}, -1},
		{"Zero left", []float32{0, 0, 0}, []float32{1, 2, 3}, 0},
		{"Zero right", []float32{1, 2, 3}, []float32{0, 0, 0}, 0},
		{"Both zero", []float32{0, 0}, []float32{0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, sim, epsilon)
		})
	}
}

func TestCosineSimilaritySelf(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		v := make([]float32, 64)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		sim, err := CosineSimilarity(v, v)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sim, epsilon, "cos(v, v) must be 1 for non-zero v")
	}
}

func TestCosineSimilaritySymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		a := make([]float32, 32)
		b := make([]float32, 32)
		for j := range a {
			a[j] = rng.Float32()*2 - 1
			b[j] = rng.Float32()*2 - 1
		}
		ab, err := CosineSimilarity(a, b)
		require.NoError(t, err)
		ba, err := CosineSimilarity(b, a)
		require.NoError(t, err)
		assert.InDelta(t, ab, ba, epsilon)
	}
}

func TestDimensionMismatch(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{1, 2}

	_, err := CosineSimilarity(a, b)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = CosineDistance(a, b)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = L2Distance(a, b)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = InnerProduct(a, b)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestCosineDistance(t *testing.T) {
	d, err := CosineDistance([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0, d, epsilon)

	d, err = CosineDistance([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 2, d, epsilon)
}

func TestL2Distance(t *testing.T) {
	d, err := L2Distance([]float32{0, 0}, []float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 5, d, epsilon)
}

func TestInnerProduct(t *testing.T) {
	p, err := InnerProduct([]float32{1, 2, 3}, []float32{4, 5, 6})
	require.NoError(t, err)
	assert.InDelta(t, 32, p, epsilon)
}

func TestNormalize(t *testing.T) {
	t.Run("Unit length result", func(t *testing.T) {
		v := []float32{3, 4}
		n := Normalize(v)
		assert.InDelta(t, 1.0, Norm(n), epsilon)
		assert.InDelta(t, 0.6, float64(n[0]), epsilon)
		assert.InDelta(t, 0.8, float64(n[1]), epsilon)
		// Input must not be mutated
		assert.Equal(t, []float32{3, 4}, v)
	})

	t.Run("Zero vector unchanged", func(t *testing.T) {
		v := []float32{0, 0, 0}
		assert.Equal(t, v, Normalize(v))
	})

	t.Run("Idempotent", func(t *testing.T) {
		rng := rand.New(rand.NewSource(99))
		for i := 0; i < 20; i++ {
			v := make([]float32, 16)
			for j := range v {
				v[j] = rng.Float32()*10 - 5
			}
			once := Normalize(v)
			twice := Normalize(once)
			for j := range once {
				assert.InDelta(t, float64(once[j]), float64(twice[j]), epsilon)
			}
		}
	})
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero([]float32{0, 0, 0}))
	assert.True(t, IsZero(nil))
	assert.False(t, IsZero([]float32{0, math.SmallestNonzeroFloat32}))
}

func BenchmarkCosineSimilarity(b *testing.B) {
	x := make([]float32, 1536)
	y := make([]float32, 1536)
	for i := range x {
		x[i] = float32(i % 7)
		y[i] = float32(i % 5)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = CosineSimilarity(x, y)
	}
}
