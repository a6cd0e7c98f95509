package mixer

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"tablecast/internal/domain"

	xdraw "golang.org/x/image/draw"
)

// Composite frame geometry. The agent accepts one image stream, so every
// ready source is tiled into a single fixed-size frame.
const (
	CompositeWidth  = 1024
	CompositeHeight = 768
	jpegQuality     = 70
	maxTiles        = 4
)

// Compositor merges camera and peer stills into one composite frame using a
// deterministic slot layout: a single ready source fills the frame, two to
// four tile into quadrants. Priority is local sources before remote, each
// group in join order.
type Compositor struct {
	mu      sync.Mutex
	locals  []domain.FrameSource
	remotes []domain.FrameSource
}

// NewCompositor creates an empty compositor.
func NewCompositor() *Compositor {
	return &Compositor{}
}

// AddSource registers a source. Adding an id twice replaces the earlier
// registration.
func (c *Compositor) AddSource(s domain.FrameSource) {
	c.RemoveSource(s.ID())
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Remote() {
		c.remotes = append(c.remotes, s)
	} else {
		c.locals = append(c.locals, s)
	}
}

// RemoveSource drops the source with the given id, if registered.
func (c *Compositor) RemoveSource(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locals = removeSource(c.locals, id)
	c.remotes = removeSource(c.remotes, id)
}

func removeSource(list []domain.FrameSource, id string) []domain.FrameSource {
	for i, s := range list {
		if s.ID() == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// ready returns sources that currently have a frame, in priority order.
func (c *Compositor) ready() []domain.FrameSource {
	c.mu.Lock()
	ordered := make([]domain.FrameSource, 0, len(c.locals)+len(c.remotes))
	ordered = append(ordered, c.locals...)
	ordered = append(ordered, c.remotes...)
	c.mu.Unlock()

	var out []domain.FrameSource
	for _, s := range ordered {
		if _, ok := s.Latest(); ok {
			out = append(out, s)
		}
	}
	return out
}

// Composite draws every currently-ready source into the layout and returns
// the encoded JPEG. ok is false when no source has produced a frame yet.
func (c *Compositor) Composite() (frame []byte, ok bool) {
	sources := c.ready()
	if len(sources) == 0 {
		return nil, false
	}
	if len(sources) > maxTiles {
		sources = sources[:maxTiles]
	}

	canvas := image.NewRGBA(image.Rect(0, 0, CompositeWidth, CompositeHeight))
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, xdraw.Src)

	slots := layoutSlots(len(sources))
	for i, s := range sources {
		img, ok := s.Latest()
		if !ok {
			continue
		}
		xdraw.ApproxBiLinear.Scale(canvas, slots[i], img, img.Bounds(), xdraw.Src, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// layoutSlots returns the destination rectangles for n tiles (1..4).
func layoutSlots(n int) []image.Rectangle {
	full := image.Rect(0, 0, CompositeWidth, CompositeHeight)
	if n <= 1 {
		return []image.Rectangle{full}
	}
	w, h := CompositeWidth/2, CompositeHeight/2
	quads := []image.Rectangle{
		image.Rect(0, 0, w, h),
		image.Rect(w, 0, CompositeWidth, h),
		image.Rect(0, h, w, CompositeHeight),
		image.Rect(w, h, CompositeWidth, CompositeHeight),
	}
	return quads[:n]
}
