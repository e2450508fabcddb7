package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/store"
)

type fixture struct {
	variants  *store.VariantStore
	inputs    *store.InputStore
	registry  *store.OutputRegistry
	processor *Processor
}

func newFixture(t *testing.T, transformer Transformer, variants ...domain.Variant) fixture {
	t.Helper()

	f := fixture{
		variants: store.NewVariantStore(variants...),
		inputs:   store.NewInputStore(),
		registry: store.NewOutputRegistry(zap.NewNop()),
	}
	if transformer == nil {
		transformer = imagingTransformer{}
	}
	p, err := NewProcessor(zap.NewNop(), f.variants, f.inputs, f.registry, transformer, 400)
	require.NoError(t, err)
	f.processor = p
	return f
}

func (f fixture) addInput(t *testing.T, id, filename string, data []byte) {
	t.Helper()
	_, err := f.inputs.Add(domain.InputImage{ID: id, Filename: filename, Data: data})
	require.NoError(t, err)
}

func testVariant(id string) domain.Variant {
	v := domain.DefaultVariant()
	v.ID = id
	v.Name = "Variant " + id
	return v
}

func widthVariant(id string, width float64) domain.Variant {
	v := testVariant(id)
	v.Width = domain.Dimension{Mode: domain.DimensionExact, Value: domain.Px(width)}
	return v
}

func decodeConfig(t *testing.T, data []byte) (image.Config, string) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg, format
}

func TestProcessorGenerateResizesAndSeals(t *testing.T) {
	f := newFixture(t, nil, widthVariant("v1", 80))
	f.addInput(t, "a", "photo.png", buildTestPNG(t, 240, 120))

	res, err := f.processor.Generate(context.Background(), "a", "v1")
	require.NoError(t, err)
	require.False(t, res.Skipped)

	out := res.Image
	assert.Equal(t, "a-v1", out.ID)
	assert.Equal(t, 80, out.Width)
	assert.Equal(t, 40, out.Height)
	assert.Equal(t, "png", out.Format)
	assert.Equal(t, "photo.png", out.Filename)
	assert.Equal(t, domain.InputSnapshot{ID: "a", Index: 0, Filename: "photo.png", Size: out.Input.Size, Width: 240, Height: 120}, out.Input)
	assert.Equal(t, domain.DefaultCrop(), out.Crop)
	assert.False(t, out.Resampling.Enabled)
	assert.True(t, out.ThumbnailAliased)
	assert.Equal(t, out.Full.Bytes, out.Thumbnail.Bytes)

	cfg, format := decodeConfig(t, out.Full.Data)
	assert.Equal(t, "png", format)
	assert.Equal(t, 80, cfg.Width)
	assert.Equal(t, 40, cfg.Height)

	stored, ok := f.registry.Get("a-v1")
	require.True(t, ok)
	assert.Equal(t, out.Filename, stored.Filename)
}

func TestProcessorForcesJPEGBelowFullQuality(t *testing.T) {
	v := widthVariant("v1", 100)
	v.Quality = 0.8
	v.Pattern = "{filename}_{width}x{height}"
	f := newFixture(t, nil, v)
	f.addInput(t, "a", "photo.png", buildTestPNG(t, 200, 100))

	res, err := f.processor.Generate(context.Background(), "a", "v1")
	require.NoError(t, err)

	assert.Equal(t, "jpeg", res.Image.Format)
	assert.Equal(t, "photo_100x50.jpg", res.Image.Filename)
	assert.Equal(t, "image/jpeg", res.Image.Full.ContentType)
	_, format := decodeConfig(t, res.Image.Full.Data)
	assert.Equal(t, "jpeg", format)
}

func TestProcessorDerivesThumbnailForLargeOutputs(t *testing.T) {
	f := newFixture(t, nil, testVariant("v1"))
	f.addInput(t, "a", "wide.png", buildTestPNG(t, 900, 600))

	res, err := f.processor.Generate(context.Background(), "a", "v1")
	require.NoError(t, err)

	out := res.Image
	assert.Equal(t, 900, out.Width)
	assert.Equal(t, 600, out.Height)
	assert.False(t, out.ThumbnailAliased)
	assert.Equal(t, 400, out.Thumbnail.Width)
	assert.Equal(t, 267, out.Thumbnail.Height)

	cfg, _ := decodeConfig(t, out.Thumbnail.Data)
	assert.Equal(t, 400, cfg.Width)
	assert.Equal(t, 267, cfg.Height)
}

// barrierTransformer holds every caller until n calls have arrived so that
// concurrent generations overlap inside the transform.
type barrierTransformer struct {
	next    Transformer
	arrived sync.WaitGroup
}

func newBarrierTransformer(n int) *barrierTransformer {
	b := &barrierTransformer{next: imagingTransformer{}}
	b.arrived.Add(n)
	return b
}

func (b *barrierTransformer) Transform(ctx context.Context, input []byte, plan Plan) (Rendered, error) {
	b.arrived.Done()
	b.arrived.Wait()
	return b.next.Transform(ctx, input, plan)
}

func TestProcessorConcurrentDuplicateAdmitsOne(t *testing.T) {
	f := newFixture(t, newBarrierTransformer(2), widthVariant("v1", 50))
	f.addInput(t, "a", "photo.png", buildTestPNG(t, 100, 100))

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.processor.Generate(context.Background(), "a", "v1")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, results[0].Skipped, results[1].Skipped, "exactly one generation is admitted")
	assert.Equal(t, 1, f.registry.Len())
	_, ok := f.registry.Get("a-v1")
	assert.True(t, ok)
}

func TestProcessorSkipsExistingOutput(t *testing.T) {
	f := newFixture(t, nil, widthVariant("v1", 50))
	f.addInput(t, "a", "photo.png", buildTestPNG(t, 100, 100))

	_, err := f.processor.Generate(context.Background(), "a", "v1")
	require.NoError(t, err)
	res, err := f.processor.Generate(context.Background(), "a", "v1")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

// editingTransformer replaces the variant while the transform runs.
type editingTransformer struct {
	variants *store.VariantStore
	edit     domain.Variant
	once     sync.Once
}

func (e *editingTransformer) Transform(ctx context.Context, input []byte, plan Plan) (Rendered, error) {
	e.once.Do(func() { _ = e.variants.Replace(e.edit) })
	return imagingTransformer{}.Transform(ctx, input, plan)
}

func TestProcessorRereadsVariantBeforeSealing(t *testing.T) {
	original := widthVariant("v1", 80)
	f := newFixture(t, nil, original)
	edited := original
	edited.Pattern = "{filename}_edited"
	f.processor.transformer = &editingTransformer{variants: f.variants, edit: edited}
	f.addInput(t, "a", "photo.png", buildTestPNG(t, 160, 80))

	res, err := f.processor.Generate(context.Background(), "a", "v1")
	require.NoError(t, err)
	assert.Equal(t, "photo_edited.png", res.Image.Filename)
	assert.Equal(t, 80, res.Image.Width)
}

// gateTransformer parks the first call until release is closed. Later calls
// pass straight through.
type gateTransformer struct {
	entered chan struct{}
	release chan struct{}
	first   sync.Once
}

func newGateTransformer() *gateTransformer {
	return &gateTransformer{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateTransformer) Transform(ctx context.Context, input []byte, plan Plan) (Rendered, error) {
	parked := false
	g.first.Do(func() { parked = true })
	if parked {
		close(g.entered)
		<-g.release
	}
	return imagingTransformer{}.Transform(ctx, input, plan)
}

func TestProcessorRefreshBeatsGenerationStartedBeforeEdit(t *testing.T) {
	original := widthVariant("v1", 80)
	f := newFixture(t, nil, original)
	gate := newGateTransformer()
	f.processor.transformer = gate
	f.addInput(t, "a", "photo.png", buildTestPNG(t, 160, 80))

	type outcome struct {
		res Result
		err error
	}
	stale := make(chan outcome, 1)
	go func() {
		res, err := f.processor.Generate(context.Background(), "a", "v1")
		stale <- outcome{res, err}
	}()
	<-gate.entered

	edited := widthVariant("v1", 40)
	require.NoError(t, f.variants.Replace(edited))
	fresh, err := f.processor.Refresh(context.Background(), "a", "v1")
	require.NoError(t, err)
	assert.Equal(t, 40, fresh.Image.Width)

	close(gate.release)
	late := <-stale
	require.NoError(t, late.err)
	assert.True(t, late.res.Skipped)

	out, ok := f.registry.Get("a-v1")
	require.True(t, ok)
	assert.Equal(t, 40, out.Width)
	assert.Equal(t, 20, out.Height)
	assert.Equal(t, 1, f.registry.Len())
}

func TestProcessorRefreshOverwritesEarlierOutput(t *testing.T) {
	f := newFixture(t, nil, widthVariant("v1", 80))
	f.addInput(t, "a", "photo.png", buildTestPNG(t, 160, 80))

	_, err := f.processor.Generate(context.Background(), "a", "v1")
	require.NoError(t, err)

	require.NoError(t, f.variants.Replace(widthVariant("v1", 40)))
	res, err := f.processor.Refresh(context.Background(), "a", "v1")
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	out, ok := f.registry.Get("a-v1")
	require.True(t, ok)
	assert.Equal(t, 40, out.Width)

	f.processor.transformer = failingTransformer{}
	_, err = f.processor.Refresh(context.Background(), "a", "v1")
	require.Error(t, err)
	_, ok = f.registry.Get("a-v1")
	assert.False(t, ok, "a failed refresh leaves no output built from old settings")
}

func TestProcessorReportsDecodeError(t *testing.T) {
	f := newFixture(t, nil, testVariant("v1"))
	f.addInput(t, "a", "broken.png", []byte("definitely not an image"))

	_, err := f.processor.Generate(context.Background(), "a", "v1")
	var derr *domain.DecodeError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "broken.png", derr.Filename)
	assert.Equal(t, 0, f.registry.Len())
}

type failingTransformer struct{}

func (failingTransformer) Transform(context.Context, []byte, Plan) (Rendered, error) {
	return Rendered{}, errors.New("engine exploded")
}

func TestProcessorReportsTransformError(t *testing.T) {
	f := newFixture(t, failingTransformer{}, testVariant("v1"))
	f.addInput(t, "a", "photo.png", buildTestPNG(t, 10, 10))

	_, err := f.processor.Generate(context.Background(), "a", "v1")
	var terr *domain.TransformError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "resample", terr.Stage)
	assert.Equal(t, 0, f.registry.Len())
}

func TestProcessorMissingVariantIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	f.addInput(t, "a", "photo.png", buildTestPNG(t, 10, 10))

	_, err := f.processor.Generate(context.Background(), "a", "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.processor.Generate(context.Background(), "missing", "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessorRegenerateReplacesWithOverrides(t *testing.T) {
	f := newFixture(t, nil, widthVariant("v1", 100))
	f.addInput(t, "a", "photo.png", buildTestPNG(t, 200, 100))

	first, err := f.processor.Generate(context.Background(), "a", "v1")
	require.NoError(t, err)
	require.Equal(t, "png", first.Image.Format)

	crop := domain.CropSettings{X: 0, Y: 0, Zoom: 2, MinZoom: 1}
	res, err := f.processor.Regenerate(context.Background(), "a-v1", domain.Overrides{
		Crop:       &crop,
		Resampling: &domain.ResamplingSettings{Enabled: true, Filter: domain.FilterBox, Quality: 0.5},
	})
	require.NoError(t, err)
	require.False(t, res.Skipped)

	out := res.Image
	assert.Equal(t, crop, out.Crop)
	assert.True(t, out.Resampling.Enabled)
	assert.Equal(t, "jpeg", out.Format)
	assert.Equal(t, "photo.jpg", out.Filename)
	assert.Equal(t, 1, f.registry.Len())

	stored, _ := f.registry.Get("a-v1")
	assert.Equal(t, "jpeg", stored.Format)

	_, err = f.processor.Regenerate(context.Background(), "a-nope", domain.Overrides{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessorGenerateForInputRunsEveryVariant(t *testing.T) {
	f := newFixture(t, nil, widthVariant("v1", 40), widthVariant("v2", 20))
	f.addInput(t, "a", "photo.png", buildTestPNG(t, 80, 80))

	results, err := f.processor.GenerateForInput(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 40, results[0].Image.Width)
	assert.Equal(t, 20, results[1].Image.Width)
	assert.Equal(t, 2, f.registry.Len())
}

func TestProcessorUsesLiveInputOrdinal(t *testing.T) {
	v := testVariant("v1")
	v.Pattern = "img_{index,3}"
	f := newFixture(t, nil, v)
	f.addInput(t, "a", "first.png", buildTestPNG(t, 10, 10))
	f.addInput(t, "b", "second.png", buildTestPNG(t, 10, 10))

	res, err := f.processor.Generate(context.Background(), "b", "v1")
	require.NoError(t, err)
	assert.Equal(t, "img_002.png", res.Image.Filename)
	assert.Equal(t, 1, res.Image.Input.Index)
}

func TestProcessorSizesRotatedJPEGByDisplayedAxes(t *testing.T) {
	v := testVariant("v1")
	v.Width = domain.Dimension{Mode: domain.DimensionUpto, Value: domain.Px(100)}
	f := newFixture(t, nil, v)
	// Stored 400x200, displayed 200x400.
	f.addInput(t, "a", "phone.jpg", buildOrientedJPEG(t, 400, 200, 6))

	res, err := f.processor.Generate(context.Background(), "a", "v1")
	require.NoError(t, err)

	out := res.Image
	assert.Equal(t, 200, out.Input.Width)
	assert.Equal(t, 400, out.Input.Height)
	assert.Equal(t, 100, out.Width)
	assert.Equal(t, 200, out.Height)

	img, err := jpeg.Decode(bytes.NewReader(out.Full.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 200), img.Bounds())
	r, g, b, _ := img.At(99, 199).RGBA()
	assert.Greater(t, r>>8, uint32(150), "corner must come from the source, not the canvas")
	assert.Greater(t, g>>8, uint32(150))
	assert.Greater(t, b>>8, uint32(150))
}

func TestProcessorKeepsWebPInputFormat(t *testing.T) {
	f := newFixture(t, nil, widthVariant("v1", 20))
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 40, 20)), &webp.Options{Lossless: true}))
	f.addInput(t, "a", "photo.webp", buf.Bytes())

	res, err := f.processor.Generate(context.Background(), "a", "v1")
	require.NoError(t, err)
	assert.Equal(t, "webp", res.Image.Format)
	assert.Equal(t, "photo.webp", res.Image.Filename)

	info, err := Probe(res.Image.Full.Data)
	require.NoError(t, err)
	assert.Equal(t, "webp", info.Format)
	assert.Equal(t, 20, info.Width)
	assert.Equal(t, 10, info.Height)
}

func TestOutputFormat(t *testing.T) {
	assert.Equal(t, "jpeg", outputFormat("a.png", "png", 0.99))
	assert.Equal(t, "png", outputFormat("a.png", "jpeg", 1))
	assert.Equal(t, "gif", outputFormat("a.GIF", "gif", 1))
	assert.Equal(t, "jpeg", outputFormat("noext", "jpeg", 1))
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

// buildOrientedJPEG encodes a flat grey JPEG and splices in an EXIF APP1
// segment carrying only the orientation tag.
func buildOrientedJPEG(t testing.TB, w, h, orientation int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 200, 200, 200, 255
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode source jpeg: %v", err)
	}
	encoded := buf.Bytes()

	tiff := []byte{
		'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08,
		0x00, 0x01,
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, byte(orientation), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	segLen := len(payload) + 2
	app1 := append([]byte{0xff, 0xe1, byte(segLen >> 8), byte(segLen)}, payload...)

	out := make([]byte, 0, len(encoded)+len(app1))
	out = append(out, encoded[:2]...)
	out = append(out, app1...)
	out = append(out, encoded[2:]...)
	return out
}
