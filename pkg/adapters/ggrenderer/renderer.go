// Package ggrenderer provides a presenter that converts planar frames to RGB
// and draws a position overlay using the gg library.
package ggrenderer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

const barHeight = 14

var (
	barBackground = color.RGBA{0, 0, 0, 160}
	barFill       = color.RGBA{230, 60, 60, 220}
	barText       = color.White
)

// Options configures the renderer.
type Options struct {
	// OutDir receives PNG snapshots.
	OutDir string
	// SnapshotEvery saves every Nth presented frame. Zero disables snapshots.
	SnapshotEvery int
	// Overlay draws the seek bar and position text.
	Overlay bool
}

// Renderer implements ports.Presenter and ports.PositionDisplay.
type Renderer struct {
	fs   ports.FileSystem
	opts Options

	mu        sync.Mutex
	img       *image.RGBA
	dc        *gg.Context
	position  time.Duration
	duration  time.Duration
	frames    int
	snapshots []string
}

// New creates a new Renderer.
func New(fs ports.FileSystem, opts Options) *Renderer {
	return &Renderer{fs: fs, opts: opts}
}

// Configure allocates the RGB surface.
func (r *Renderer) Configure(width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if width <= 0 || height <= 0 {
		return fmt.Errorf("ggrenderer: invalid size %dx%d", width, height)
	}
	if r.opts.SnapshotEvery > 0 && r.opts.OutDir != "" {
		if err := r.fs.MkdirAll(r.opts.OutDir); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	r.img = image.NewRGBA(image.Rect(0, 0, width, height))
	r.dc = gg.NewContextForRGBA(r.img)
	r.dc.SetFontFace(basicfont.Face7x13)
	return nil
}

// SetPosition updates the overlay position.
func (r *Renderer) SetPosition(position, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position, r.duration = position, duration
}

// Present converts and draws one frame.
func (r *Renderer) Present(frame *pipeline.PlanarFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.img == nil {
		return fmt.Errorf("ggrenderer: Present before Configure")
	}
	b := r.img.Bounds()
	if frame.Width != b.Dx() || frame.Height != b.Dy() {
		return fmt.Errorf("%w: %dx%d, configured %dx%d", pipeline.ErrDimensionChange, frame.Width, frame.Height, b.Dx(), b.Dy())
	}

	PlanarToRGBA(frame, r.img)
	if r.opts.Overlay {
		r.drawOverlay()
	}

	r.frames++
	if r.opts.SnapshotEvery > 0 && (r.frames-1)%r.opts.SnapshotEvery == 0 {
		if err := r.saveSnapshot(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) drawOverlay() {
	w := float64(r.img.Bounds().Dx())
	h := float64(r.img.Bounds().Dy())
	top := h - barHeight

	r.dc.SetColor(barBackground)
	r.dc.DrawRectangle(0, top, w, barHeight)
	r.dc.Fill()

	if r.duration > 0 {
		progress := float64(r.position) / float64(r.duration)
		if progress > 1 {
			progress = 1
		}
		r.dc.SetColor(barFill)
		r.dc.DrawRectangle(0, top, w*progress, 3)
		r.dc.Fill()
	}

	r.dc.SetColor(barText)
	label := pipeline.FormatClock(r.position) + " / " + pipeline.FormatClock(r.duration)
	r.dc.DrawStringAnchored(label, 4, top+barHeight/2+1, 0, 0.5)
}

func (r *Renderer) saveSnapshot() error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.img); err != nil {
		return fmt.Errorf("encode PNG: %w", err)
	}
	path := filepath.Join(r.opts.OutDir, fmt.Sprintf("frame-%06d.png", r.frames-1))
	if err := r.fs.WriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	r.snapshots = append(r.snapshots, path)
	return nil
}

// ShouldClose always returns false; the renderer has no window to close.
func (r *Renderer) ShouldClose() bool {
	return false
}

// Close releases the surface.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dc = nil
	return nil
}

// Image returns the most recently rendered frame.
func (r *Renderer) Image() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.img
}

// Snapshots returns the paths of saved snapshots.
func (r *Renderer) Snapshots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.snapshots...)
}

// Frames returns the number of presented frames.
func (r *Renderer) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// PlanarToRGBA converts a planar frame into dst, which must have the frame's size.
func PlanarToRGBA(f *pipeline.PlanarFrame, dst *image.RGBA) {
	cw, _ := f.ChromaSize()
	for y := 0; y < f.Height; y++ {
		row := dst.Pix[y*dst.Stride:]
		crow := (y / 2) * cw
		for x := 0; x < f.Width; x++ {
			c := crow + x/2
			red, green, blue := YUVToRGB(f.Y[y*f.Width+x], f.U[c], f.V[c])
			i := x * 4
			row[i+0] = red
			row[i+1] = green
			row[i+2] = blue
			row[i+3] = 0xff
		}
	}
}

// YUVToRGB applies the fixed full-range conversion
// R = Y + 1.402V, G = Y - 0.344U - 0.714V, B = Y + 1.772U
// with U and V centered on 128.
func YUVToRGB(y, u, v byte) (byte, byte, byte) {
	fy := float64(y)
	fu := float64(u) - 128
	fv := float64(v) - 128
	return clamp(fy + 1.402*fv), clamp(fy - 0.344*fu - 0.714*fv), clamp(fy + 1.772*fu)
}

func clamp(x float64) byte {
	switch {
	case x <= 0:
		return 0
	case x >= 255:
		return 255
	default:
		return byte(x + 0.5)
	}
}

var (
	_ ports.Presenter       = (*Renderer)(nil)
	_ ports.PositionDisplay = (*Renderer)(nil)
)
