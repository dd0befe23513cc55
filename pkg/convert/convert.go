// Package convert turns decoded frames of any supported native layout into
// the planar output format: full resolution Y with quarter resolution U and V.
package convert

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/user/warpplayer/pkg/pipeline"
)

// Converter owns the destination planes. Its output is overwritten by every
// call to Convert.
type Converter struct {
	width  int
	height int
	out    pipeline.PlanarFrame

	// scratch planes for chroma downsampling
	srcU *image.Gray
	srcV *image.Gray
	dstU *image.Gray
	dstV *image.Gray
}

// New creates a converter for frames of the given size.
func New(width, height int) (*Converter, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("convert: invalid frame size %dx%d", width, height)
	}
	c := &Converter{width: width, height: height}
	cw, ch := (width+1)/2, (height+1)/2
	c.out = pipeline.PlanarFrame{
		Width:  width,
		Height: height,
		Y:      make([]byte, width*height),
		U:      make([]byte, cw*ch),
		V:      make([]byte, cw*ch),
	}
	c.dstU = &image.Gray{Pix: c.out.U, Stride: cw, Rect: image.Rect(0, 0, cw, ch)}
	c.dstV = &image.Gray{Pix: c.out.V, Stride: cw, Rect: image.Rect(0, 0, cw, ch)}
	return c, nil
}

// Size returns the configured frame size.
func (c *Converter) Size() (int, int) {
	return c.width, c.height
}

// Convert converts f into the converter's planar frame.
func (c *Converter) Convert(f *pipeline.VideoFrame) (*pipeline.PlanarFrame, error) {
	if f.Width != c.width || f.Height != c.height {
		return nil, fmt.Errorf("convert %dx%d into %dx%d: %w", f.Width, f.Height, c.width, c.height, pipeline.ErrDimensionChange)
	}

	if err := checkPlanes(f); err != nil {
		return nil, err
	}

	copyPlane(c.out.Y, c.width, f.Planes[0], f.Strides[0], c.width, c.height)

	cw, ch := c.out.ChromaSize()
	switch f.Format {
	case pipeline.PixelFormatYUV420P:
		copyPlane(c.out.U, cw, f.Planes[1], f.Strides[1], cw, ch)
		copyPlane(c.out.V, cw, f.Planes[2], f.Strides[2], cw, ch)
	case pipeline.PixelFormatNV12:
		deinterleave(c.out.U, c.out.V, cw, f.Planes[1], f.Strides[1], cw, ch)
	case pipeline.PixelFormatNV21:
		deinterleave(c.out.V, c.out.U, cw, f.Planes[1], f.Strides[1], cw, ch)
	case pipeline.PixelFormatYUV422P:
		c.downsample(f, cw, c.height)
	case pipeline.PixelFormatYUV444P:
		c.downsample(f, c.width, c.height)
	case pipeline.PixelFormatGray:
		fill(c.out.U, 128)
		fill(c.out.V, 128)
	default:
		return nil, fmt.Errorf("convert: unsupported pixel format %s", f.Format)
	}

	c.out.PTS = f.PTS
	return &c.out, nil
}

// downsample scales full or half width chroma planes to quarter resolution
// with bilinear interpolation.
func (c *Converter) downsample(f *pipeline.VideoFrame, srcW, srcH int) {
	r := image.Rect(0, 0, srcW, srcH)
	c.srcU = wrapGray(c.srcU, f.Planes[1], f.Strides[1], r)
	c.srcV = wrapGray(c.srcV, f.Planes[2], f.Strides[2], r)
	draw.BiLinear.Scale(c.dstU, c.dstU.Rect, c.srcU, r, draw.Src, nil)
	draw.BiLinear.Scale(c.dstV, c.dstV.Rect, c.srcV, r, draw.Src, nil)
}

func wrapGray(g *image.Gray, pix []byte, stride int, r image.Rectangle) *image.Gray {
	if g == nil {
		g = &image.Gray{}
	}
	g.Pix = pix
	g.Stride = stride
	g.Rect = r
	return g
}

func checkPlanes(f *pipeline.VideoFrame) error {
	need := func(plane, w, h int) error {
		if h == 0 {
			return nil
		}
		if f.Strides[plane] < w || len(f.Planes[plane]) < f.Strides[plane]*(h-1)+w {
			return fmt.Errorf("convert: plane %d too small for %dx%d", plane, w, h)
		}
		return nil
	}

	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	if err := need(0, f.Width, f.Height); err != nil {
		return err
	}
	switch f.Format {
	case pipeline.PixelFormatYUV420P:
		if err := need(1, cw, ch); err != nil {
			return err
		}
		return need(2, cw, ch)
	case pipeline.PixelFormatNV12, pipeline.PixelFormatNV21:
		return need(1, 2*cw, ch)
	case pipeline.PixelFormatYUV422P:
		if err := need(1, cw, f.Height); err != nil {
			return err
		}
		return need(2, cw, f.Height)
	case pipeline.PixelFormatYUV444P:
		if err := need(1, f.Width, f.Height); err != nil {
			return err
		}
		return need(2, f.Width, f.Height)
	}
	return nil
}

func copyPlane(dst []byte, dstStride int, src []byte, srcStride, w, h int) {
	if dstStride == srcStride && len(src) >= w*h {
		copy(dst[:w*h], src[:w*h])
		return
	}
	for y := 0; y < h; y++ {
		copy(dst[y*dstStride:y*dstStride+w], src[y*srcStride:y*srcStride+w])
	}
}

func deinterleave(a, b []byte, dstStride int, src []byte, srcStride, w, h int) {
	for y := 0; y < h; y++ {
		row := src[y*srcStride:]
		da := a[y*dstStride:]
		db := b[y*dstStride:]
		for x := 0; x < w; x++ {
			da[x] = row[2*x]
			db[x] = row[2*x+1]
		}
	}
}

func fill(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}
