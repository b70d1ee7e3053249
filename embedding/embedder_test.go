package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbed_FallbackIsDeterministic(t *testing.T) {
	e := New(nil, 64)
	a, err := e.Embed(context.Background(), "Entities connect via relations")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "Entities connect via relations")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbed_FallbackIsUnitNorm(t *testing.T) {
	e := New(nil, 64)
	v, err := e.Embed(context.Background(), "some arbitrary chunk text here")
	require.NoError(t, err)
	assert.True(t, v.IsUnit(1e-4))
}

func TestEmbed_DifferentTextDifferentVector(t *testing.T) {
	e := New(nil, 64)
	a, _ := e.Embed(context.Background(), "alpha beta gamma")
	b, _ := e.Embed(context.Background(), "totally unrelated words here")
	assert.NotEqual(t, a, b)
}

type stubOracle struct {
	vec []float32
	err error
}

func (s stubOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}

func TestEmbed_UsesOracleWhenAvailable(t *testing.T) {
	e := New(stubOracle{vec: []float32{3, 4}}, 2)
	v, err := e.Embed(context.Background(), "ignored")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v.Norm(), 1e-6)
}

func TestEmbed_FallsBackOnOracleError(t *testing.T) {
	e := New(stubOracle{err: assertErr{}}, 32)
	v, err := e.Embed(context.Background(), "fallback text")
	require.NoError(t, err)
	assert.True(t, v.IsUnit(1e-4))
}

type assertErr struct{}

func (assertErr) Error() string { return "oracle unavailable" }
