package render

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"orderflow/internal/domain"

	"github.com/disintegration/imaging"
)

// Frame is one painted heatmap.
type Frame struct {
	Image      *image.NRGBA
	Config     domain.HeatmapConfig
	Instrument string
	At         time.Time
	Seq        uint64
	Empty      bool // nothing to scale against; background and overlay only
}

// FrameSink consumes painted frames. WriteFrame runs on the render goroutine.
type FrameSink interface {
	WriteFrame(f Frame) error
}

// PNGSink writes every N-th frame to <dir>/<instrument>.png, optionally resized.
type PNGSink struct {
	dir    string
	width  int
	height int
	everyN uint64
}

// NewPNGSink creates the output directory. width/height of 0 keep the native size;
// everyN <= 1 writes every frame.
func NewPNGSink(dir string, width, height, everyN int) (*PNGSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &PNGSink{
		dir:    dir,
		width:  width,
		height: height,
		everyN: uint64(max(everyN, 1)),
	}, nil
}

func (s *PNGSink) WriteFrame(f Frame) error {
	if f.Seq%s.everyN != 0 {
		return nil
	}

	var img image.Image = f.Image
	if s.width > 0 || s.height > 0 {
		img = imaging.Resize(f.Image, s.width, s.height, imaging.Lanczos)
	}

	// write then rename so readers never see a partial file
	final := s.Path(f.Instrument)
	tmp := strings.TrimSuffix(final, ".png") + ".tmp.png"
	if err := imaging.Save(img, tmp); err != nil {
		return fmt.Errorf("failed to save frame: %w", err)
	}
	return os.Rename(tmp, final)
}

// Path returns the output file for instrument.
func (s *PNGSink) Path(instrument string) string {
	name := strings.ToLower(sanitizeSymbol(instrument))
	if name == "" {
		name = "heatmap"
	}
	return filepath.Join(s.dir, name+".png")
}

// sanitizeSymbol keeps ASCII letters and digits so an instrument id cannot escape the output dir.
func sanitizeSymbol(symbol string) string {
	res := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			res = append(res, r)
		}
	}
	return string(res)
}

// LatestFrame keeps the most recent frame in memory for status readers.
type LatestFrame struct {
	mu    sync.RWMutex
	frame Frame
	ok    bool
}

func (l *LatestFrame) WriteFrame(f Frame) error {
	l.mu.Lock()
	l.frame, l.ok = f, true
	l.mu.Unlock()
	return nil
}

// Latest returns the last frame written, if any.
func (l *LatestFrame) Latest() (Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, l.ok
}

// MultiSink fans a frame out to several sinks, returning the first error.
type MultiSink []FrameSink

func (m MultiSink) WriteFrame(f Frame) error {
	var first error
	for _, s := range m {
		if err := s.WriteFrame(f); err != nil && first == nil {
			first = err
		}
	}
	return first
}
