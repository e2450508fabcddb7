package batch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/pipeline"
	"github.com/dunamismax/variantforge/internal/store"
)

type stubGenerator struct {
	calls atomic.Int32
	fail  map[string]error
	skip  map[string]bool
}

func (g *stubGenerator) Generate(_ context.Context, inputID, variantID string) (pipeline.Result, error) {
	g.calls.Add(1)
	key := domain.OutputKey(inputID, variantID)
	if err := g.fail[key]; err != nil {
		return pipeline.Result{}, err
	}
	if g.skip[key] {
		return pipeline.Result{Skipped: true}, nil
	}
	return pipeline.Result{Image: domain.OutputImage{ID: key, Full: domain.Payload{Bytes: 10}}}, nil
}

func (g *stubGenerator) Regenerate(_ context.Context, outputID string, _ domain.Overrides) (pipeline.Result, error) {
	return pipeline.Result{Image: domain.OutputImage{ID: outputID}}, nil
}

func (g *stubGenerator) Refresh(ctx context.Context, inputID, variantID string) (pipeline.Result, error) {
	return g.Generate(ctx, inputID, variantID)
}

func variants(ids ...string) *store.VariantStore {
	s := store.NewVariantStore()
	for _, id := range ids {
		s.Create(id)
	}
	return s
}

func TestRunnerReportsEachPairIndependently(t *testing.T) {
	gen := &stubGenerator{
		fail: map[string]error{"b-v1": &domain.DecodeError{Filename: "b.png", Err: errors.New("bad")}},
		skip: map[string]bool{"a-v2": true},
	}
	r := NewRunner(zap.NewNop(), gen, variants("v1", "v2"), 3)
	defer r.Close()

	report := r.Run(context.Background(), []string{"a", "b"})

	assert.Equal(t, int32(4), gen.calls.Load())
	assert.Len(t, report.Generated, 2)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "b", report.Failures[0].InputID)
	assert.Equal(t, "v1", report.Failures[0].VariantID)

	var derr *domain.DecodeError
	assert.True(t, errors.As(report.Err(), &derr))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.generationsTotal.WithLabelValues("generate", "generated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.generationsTotal.WithLabelValues("generate", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.failuresTotal.WithLabelValues("decode")))
	assert.Equal(t, 20.0, testutil.ToFloat64(r.metrics.outputBytesTotal))
}

func TestRunnerEmptyBatch(t *testing.T) {
	r := NewRunner(nil, &stubGenerator{}, variants(), 1)
	defer r.Close()

	report := r.Run(context.Background(), []string{"a"})
	assert.Empty(t, report.Generated)
	assert.NoError(t, report.Err())
}

func TestRunnerCanceledContextFailsPairs(t *testing.T) {
	gen := &stubGenerator{}
	r := NewRunner(zap.NewNop(), gen, variants("v1"), 2)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := r.Run(ctx, []string{"a", "b"})

	assert.Equal(t, int32(0), gen.calls.Load())
	assert.Len(t, report.Failures, 2)
	assert.ErrorIs(t, report.Err(), context.Canceled)
}

func TestRunnerWithProcessorDeduplicatesAcrossRuns(t *testing.T) {
	vs := store.NewVariantStore()
	small := vs.Create("v1")
	small.Width = domain.Dimension{Mode: domain.DimensionUpto, Value: domain.Px(16)}
	require.NoError(t, vs.Replace(small))
	vs.Create("v2")

	inputs := store.NewInputStore()
	for _, id := range []string{"a", "b", "c"} {
		_, err := inputs.Add(domain.InputImage{ID: id, Filename: id + ".png", Data: solidPNG(t, 32, 24)})
		require.NoError(t, err)
	}
	registry := store.NewOutputRegistry(zap.NewNop())
	processor, err := pipeline.NewProcessor(zap.NewNop(), vs, inputs, registry, nil, 400)
	require.NoError(t, err)

	r := NewRunner(zap.NewNop(), processor, vs, 4)
	defer r.Close()

	first := r.Run(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, first.Err())
	assert.Len(t, first.Generated, 6)
	assert.Equal(t, 6, registry.Len())

	second := r.Run(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, second.Err())
	assert.Empty(t, second.Generated)
	assert.Equal(t, 6, second.Skipped)

	out, ok := registry.Get("b-v1")
	require.True(t, ok)
	assert.Equal(t, 16, out.Width)
	assert.Equal(t, 12, out.Height)
}

func TestRunnerRegenerateCountsMode(t *testing.T) {
	r := NewRunner(zap.NewNop(), &stubGenerator{}, variants("v1"), 1)
	defer r.Close()

	res, err := r.Regenerate(context.Background(), "a-v1", domain.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "a-v1", res.Image.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.generationsTotal.WithLabelValues("regenerate", "generated")))
}

func TestRunnerRefreshTouchesOneVariant(t *testing.T) {
	vs := store.NewVariantStore()
	vs.Create("v1")
	vs.Create("v2")

	inputs := store.NewInputStore()
	for _, id := range []string{"a", "b"} {
		_, err := inputs.Add(domain.InputImage{ID: id, Filename: id + ".png", Data: solidPNG(t, 32, 24)})
		require.NoError(t, err)
	}
	registry := store.NewOutputRegistry(zap.NewNop())
	processor, err := pipeline.NewProcessor(zap.NewNop(), vs, inputs, registry, nil, 400)
	require.NoError(t, err)

	r := NewRunner(zap.NewNop(), processor, vs, 2)
	defer r.Close()

	require.NoError(t, r.Run(context.Background(), []string{"a", "b"}).Err())
	untouched, ok := registry.Get("a-v2")
	require.True(t, ok)

	edited, ok := vs.Get("v1")
	require.True(t, ok)
	edited.Width = domain.Dimension{Mode: domain.DimensionExact, Value: domain.Px(8)}
	require.NoError(t, vs.Replace(edited))

	report := r.Refresh(context.Background(), []string{"a", "b"}, "v1")
	require.NoError(t, report.Err())
	assert.Len(t, report.Generated, 2)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, 4, registry.Len())

	out, ok := registry.Get("b-v1")
	require.True(t, ok)
	assert.Equal(t, 8, out.Width)
	assert.Equal(t, 6, out.Height)

	same, ok := registry.Get("a-v2")
	require.True(t, ok)
	assert.Equal(t, untouched.CreatedAt, same.CreatedAt)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.generationsTotal.WithLabelValues("refresh", "generated")))
}

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 30, 120, 200, 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
