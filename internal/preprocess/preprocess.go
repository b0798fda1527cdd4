// internal/preprocess/preprocess.go

// Package preprocess turns uploaded image bytes into the fixed-size RGB
// tensor the classifier model was trained on.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultSize is the spatial size (width and height) of the model input.
	DefaultSize = 256
	// Channels is the number of color channels in every tensor (R, G, B).
	Channels = 3
	// MaxPixels bounds the decoded image area before any pixel data is allocated.
	MaxPixels = 64 << 20
)

// Filter selects the resampling kernel used when resizing.
type Filter string

const (
	FilterNearest  Filter = "nearest"
	FilterBilinear Filter = "bilinear"
	FilterBicubic  Filter = "bicubic"
	FilterLanczos3 Filter = "lanczos3"
)

// Normalization selects how 8-bit samples are mapped into the tensor.
type Normalization string

const (
	// NormalizeNone keeps samples in the native 0-255 range.
	NormalizeNone Normalization = "none"
	// NormalizeUnit scales samples into 0-1.
	NormalizeUnit Normalization = "unit"
)

var (
	errEmptyImage = errors.New("empty image data")
	errZeroSize   = errors.New("image has zero width or height")
)

// Options configures a Preprocessor. Zero values fall back to a 256x256
// bicubic resize with no normalization.
type Options struct {
	Width         int
	Height        int
	Filter        Filter
	Normalization Normalization
}

// Tensor is a single decoded image laid out channels-last (HWC) in RGB order.
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// Shape returns the tensor dimensions as [height, width, channels].
func (t *Tensor) Shape() []int64 {
	return []int64{int64(t.Height), int64(t.Width), int64(t.Channels)}
}

// At returns the sample at row y, column x and channel c.
func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// Preprocessor is stateless after construction and safe for concurrent use.
type Preprocessor struct {
	opts Options
}

// New validates opts and returns a Preprocessor.
func New(opts Options) (*Preprocessor, error) {
	if opts.Width == 0 {
		opts.Width = DefaultSize
	}
	if opts.Height == 0 {
		opts.Height = DefaultSize
	}
	if opts.Filter == "" {
		opts.Filter = FilterBicubic
	}
	if opts.Normalization == "" {
		opts.Normalization = NormalizeNone
	}

	if opts.Width < 0 || opts.Height < 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", opts.Width, opts.Height)
	}
	switch opts.Filter {
	case FilterNearest, FilterBilinear, FilterBicubic, FilterLanczos3:
	default:
		return nil, fmt.Errorf("unknown resize filter %q", opts.Filter)
	}
	switch opts.Normalization {
	case NormalizeNone, NormalizeUnit:
	default:
		return nil, fmt.Errorf("unknown normalization %q", opts.Normalization)
	}

	return &Preprocessor{opts: opts}, nil
}

// Options returns the effective options after defaults were applied.
func (p *Preprocessor) Options() Options {
	return p.opts
}

// Process decodes data, converts it to RGB, resizes it to the target size and
// returns the resulting tensor. Undecodable input yields a *DecodeError.
func (p *Preprocessor) Process(data []byte) (*Tensor, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}

	rgb := ToRGB(img)
	resized := p.Resize(rgb)
	return p.tensor(resized), nil
}

// Decode parses data in any registered container format (JPEG, PNG, GIF,
// WebP, BMP, TIFF) and returns the image with its format name.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &DecodeError{Err: errEmptyImage}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, format, &DecodeError{Format: format, Err: errZeroSize}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, format, &DecodeError{
			Format: format,
			Err:    fmt.Errorf("image dimensions %dx%d exceed limit", cfg.Width, cfg.Height),
		}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, &DecodeError{Format: format, Err: err}
	}
	return img, format, nil
}

// ToRGB returns an opaque copy of img with origin (0,0). Grayscale input is
// replicated into all three channels and any alpha channel is dropped, so a
// pixel keeps its straight (non-premultiplied) color values.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	// Lossy WebP with alpha keeps luma and chroma apart from alpha; read them
	// directly so transparent pixels keep their stored color.
	if src, ok := img.(*image.NYCbCrA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := (y - b.Min.Y) * dst.Stride
			for x := b.Min.X; x < b.Max.X; x++ {
				c := src.YCbCrAt(x, y)
				r, g, bl := color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
				i := row + (x-b.Min.X)*4
				dst.Pix[i+0] = r
				dst.Pix[i+1] = g
				dst.Pix[i+2] = bl
				dst.Pix[i+3] = 0xff
			}
		}
		return dst
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := (y - b.Min.Y) * dst.Stride
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := row + (x-b.Min.X)*4
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}

// Resize scales src to the configured size without preserving the aspect
// ratio. An image already at the target size is returned unchanged.
func (p *Preprocessor) Resize(src *image.RGBA) *image.RGBA {
	w, h := p.opts.Width, p.opts.Height
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		return src
	}

	if p.opts.Filter == FilterLanczos3 {
		out := resize.Resize(uint(w), uint(h), src, resize.Lanczos3)
		if rgba, ok := out.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
			return rgba
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Rect, out, out.Bounds().Min, draw.Src)
		return dst
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	p.scaler().Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return dst
}

func (p *Preprocessor) scaler() draw.Scaler {
	switch p.opts.Filter {
	case FilterNearest:
		return draw.NearestNeighbor
	case FilterBilinear:
		return draw.BiLinear
	default:
		return draw.CatmullRom
	}
}

func (p *Preprocessor) tensor(img *image.RGBA) *Tensor {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	scale := float32(1)
	if p.opts.Normalization == NormalizeUnit {
		scale = 1.0 / 255.0
	}

	data := make([]float32, w*h*Channels)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := y*img.Stride + x*4
			dst := (y*w + x) * Channels
			data[dst+0] = float32(img.Pix[src+0]) * scale
			data[dst+1] = float32(img.Pix[src+1]) * scale
			data[dst+2] = float32(img.Pix[src+2]) * scale
		}
	}

	return &Tensor{Height: h, Width: w, Channels: Channels, Data: data}
}
