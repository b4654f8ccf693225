package generator

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxIterations = 256

	viewX      float32 = -2.1
	viewY      float32 = -1.3
	viewWidth  float32 = 2.8
	viewHeight float32 = 2.6
)

var errNotComputed = errors.New("no output computed")

// Mandelbrot renders the escape-time count of the Mandelbrot set over the
// viewport [-2.1, 0.7) x [-1.3, 1.3). Rows are split across workers; the result
// does not depend on the worker count.
type Mandelbrot struct {
	maxIterations int
	workers       int

	params   Params
	ready    bool
	computed bool
	output   []byte
}

func NewMandelbrot(maxIterations, workers int) *Mandelbrot {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if workers <= 0 {
		workers = 1
	}
	return &Mandelbrot{
		maxIterations: maxIterations,
		workers:       workers,
	}
}

func (m *Mandelbrot) Configure(p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	m.params = p
	m.ready = true
	m.computed = false
	if n := int(p.OutputWidth) * int(p.OutputHeight); cap(m.output) < n {
		m.output = make([]byte, n)
	} else {
		m.output = m.output[:n]
	}
	return nil
}

func (m *Mandelbrot) Compute() error {
	if !m.ready {
		return fmt.Errorf("mandelbrot: compute before configure")
	}

	p := m.params
	dx := viewWidth / float32(p.FullResWidth)
	dy := viewHeight / float32(p.FullResHeight)
	w := int(p.OutputWidth)
	h := int(p.OutputHeight)

	band := (h + m.workers - 1) / m.workers
	var g errgroup.Group
	for start := 0; start < h; start += band {
		end := min(start+band, h)
		g.Go(func() error {
			for y := start; y < end; y++ {
				ci := viewY + dy*float32(int64(y)+p.OffsetY)
				row := m.output[y*w : (y+1)*w]
				for x := range row {
					cr := viewX + dx*float32(int64(x)+p.OffsetX)
					row[x] = byte(m.escape(cr, ci))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.computed = true
	return nil
}

func (m *Mandelbrot) escape(cr, ci float32) int {
	var zr, zi float32
	depth := 0
	for depth < m.maxIterations && zr*zr+zi*zi < 4 {
		t := zr
		zr = zr*zr - zi*zi + cr
		zi = 2*t*zi + ci
		depth++
	}
	return depth
}

func (m *Mandelbrot) ReadOutput() ([]byte, error) {
	if !m.computed {
		return nil, errNotComputed
	}
	return m.output, nil
}
