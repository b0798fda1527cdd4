// internal/preprocess/preprocess_test.go
package preprocess

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func encodeGIF(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("gif encode: %v", err)
	}
	return buf.Bytes()
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: 90,
				A: 255,
			})
		}
	}
	return img
}

func mustNew(t *testing.T, opts Options) *Preprocessor {
	t.Helper()
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestProcess_OutputShapeForAnyInput(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 100, 300))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, 33, 17))
	for i := range rgba.Pix {
		rgba.Pix[i] = 0x80
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"png landscape", encodePNG(t, gradient(640, 480))},
		{"png portrait", encodePNG(t, gradient(120, 900))},
		{"png tiny", encodePNG(t, gradient(1, 1))},
		{"png exact size", encodePNG(t, gradient(256, 256))},
		{"jpeg", encodeJPEG(t, gradient(300, 200))},
		{"gif paletted", encodeGIF(t, gradient(64, 64))},
		{"grayscale", encodePNG(t, gray)},
		{"rgba", encodePNG(t, rgba)},
	}

	filters := []Filter{FilterNearest, FilterBilinear, FilterBicubic, FilterLanczos3}

	for _, tt := range tests {
		for _, f := range filters {
			t.Run(tt.name+"/"+string(f), func(t *testing.T) {
				p := mustNew(t, Options{Filter: f})
				tensor, err := p.Process(tt.data)
				if err != nil {
					t.Fatalf("Process failed: %v", err)
				}
				if tensor.Height != 256 || tensor.Width != 256 || tensor.Channels != 3 {
					t.Fatalf("Expected 256x256x3, got %dx%dx%d", tensor.Height, tensor.Width, tensor.Channels)
				}
				if len(tensor.Data) != 256*256*3 {
					t.Errorf("Expected %d samples, got %d", 256*256*3, len(tensor.Data))
				}
			})
		}
	}
}

func TestProcess_ShapeIdempotent(t *testing.T) {
	p := mustNew(t, Options{})

	first, err := p.Process(encodePNG(t, gradient(512, 128)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// Re-encode the resized tensor and run it through again.
	img := image.NewRGBA(image.Rect(0, 0, first.Width, first.Height))
	for y := 0; y < first.Height; y++ {
		for x := 0; x < first.Width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(first.At(y, x, 0)),
				G: uint8(first.At(y, x, 1)),
				B: uint8(first.At(y, x, 2)),
				A: 255,
			})
		}
	}

	second, err := p.Process(encodePNG(t, img))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	got := second.Shape()
	want := []int64{256, 256, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Shape = %v, expected %v", got, want)
		}
	}

	// An image already at the target size is not resampled.
	for i := range first.Data {
		if first.Data[i] != second.Data[i] {
			t.Fatalf("Sample %d changed on second pass: %f -> %f", i, first.Data[i], second.Data[i])
		}
	}
}

func TestProcess_ChannelOrder(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = 200
		img.Pix[i+1] = 100
		img.Pix[i+2] = 50
		img.Pix[i+3] = 255
	}

	p := mustNew(t, Options{Filter: FilterNearest})
	tensor, err := p.Process(encodePNG(t, img))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if r, g, b := tensor.At(10, 10, 0), tensor.At(10, 10, 1), tensor.At(10, 10, 2); r != 200 || g != 100 || b != 50 {
		t.Errorf("Expected RGB (200,100,50), got (%v,%v,%v)", r, g, b)
	}
}

func TestProcess_UnitNormalization(t *testing.T) {
	p := mustNew(t, Options{Normalization: NormalizeUnit})
	tensor, err := p.Process(encodePNG(t, gradient(64, 64)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	for i, v := range tensor.Data {
		if v < 0 || v > 1 {
			t.Fatalf("Sample %d = %f outside [0,1]", i, v)
		}
	}
}

func TestProcess_NativeRange(t *testing.T) {
	p := mustNew(t, Options{})
	tensor, err := p.Process(encodePNG(t, gradient(64, 64)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	var max float32
	for _, v := range tensor.Data {
		if v < 0 || v > 255 {
			t.Fatalf("Sample %f outside [0,255]", v)
		}
		if v > max {
			max = v
		}
	}
	if max <= 1 {
		t.Errorf("Expected samples in native range, max was %f", max)
	}
}

func TestToRGB_GrayscaleReplicated(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(40 * i)
	}

	rgb := ToRGB(gray)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			c := rgb.RGBAAt(x, y)
			want := gray.GrayAt(x, y).Y
			if c.R != want || c.G != want || c.B != want || c.A != 255 {
				t.Errorf("Pixel (%d,%d) = %v, expected gray %d", x, y, c, want)
			}
		}
	}
}

func TestToRGB_AlphaDiscarded(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 10})
	img.SetNRGBA(1, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	rgb := ToRGB(img)

	if c := rgb.RGBAAt(0, 0); c.R != 200 || c.G != 100 || c.B != 50 || c.A != 255 {
		t.Errorf("Translucent pixel = %v, expected (200,100,50,255)", c)
	}
	if c := rgb.RGBAAt(1, 0); c.R != 1 || c.G != 2 || c.B != 3 || c.A != 255 {
		t.Errorf("Opaque pixel = %v, expected (1,2,3,255)", c)
	}
}

func TestToRGB_TransparentYCbCrKeepsColor(t *testing.T) {
	img := image.NewNYCbCrA(image.Rect(0, 0, 2, 2), image.YCbCrSubsampleRatio444)
	for i := range img.Y {
		img.Y[i] = 150
		img.Cb[i] = 128
		img.Cr[i] = 128
		img.A[i] = 0
	}

	rgb := ToRGB(img)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if c := rgb.RGBAAt(x, y); c.R != 150 || c.G != 150 || c.B != 150 || c.A != 255 {
				t.Errorf("Pixel (%d,%d) = %v, expected (150,150,150,255)", x, y, c)
			}
		}
	}
}

func TestToRGB_NonZeroOrigin(t *testing.T) {
	src := gradient(10, 10).SubImage(image.Rect(3, 4, 8, 10))
	rgb := ToRGB(src)

	if rgb.Bounds() != image.Rect(0, 0, 5, 6) {
		t.Fatalf("Bounds = %v, expected (0,0)-(5,6)", rgb.Bounds())
	}
}

func TestProcess_DecodeErrors(t *testing.T) {
	random := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(random)

	truncated := encodePNG(t, gradient(64, 64))
	truncated = truncated[:len(truncated)/2]

	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"random bytes", random},
		{"text", []byte("this is not an image")},
		{"truncated png", truncated},
	}

	p := mustNew(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := p.Process(tt.data)
			if err == nil {
				t.Fatal("Expected decode error, got nil")
			}
			if tensor != nil {
				t.Error("Expected nil tensor on error")
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Errorf("Expected *DecodeError, got %T: %v", err, err)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", Options{}, false},
		{"custom size", Options{Width: 224, Height: 224}, false},
		{"negative size", Options{Width: -1}, true},
		{"unknown filter", Options{Filter: "box"}, true},
		{"unknown normalization", Options{Normalization: "imagenet"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	p := mustNew(t, Options{})
	opts := p.Options()

	if opts.Width != DefaultSize || opts.Height != DefaultSize {
		t.Errorf("Expected %dx%d, got %dx%d", DefaultSize, DefaultSize, opts.Width, opts.Height)
	}
	if opts.Filter != FilterBicubic {
		t.Errorf("Expected bicubic filter, got %s", opts.Filter)
	}
	if opts.Normalization != NormalizeNone {
		t.Errorf("Expected no normalization, got %s", opts.Normalization)
	}
}
