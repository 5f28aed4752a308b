package hwve

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/hwve/backend"
)

// stubBackend is an in-memory capability provider for pipeline tests.
// It counts live handles and surfaces (to verify nothing leaks),
// counts surfaces pushed into the encoder, and emulates the reorder
// delay of a real codec session.
type stubBackend struct {
	liveHandles  int // devices, pools, encoders, scale graphs
	liveSurfaces int

	failPoolInit bool
	failUpload   bool
	scaleLatency int // surfaces the scale graph buffers before producing output

	lastDeviceParams  backend.DeviceParams
	lastPoolParams    backend.PoolParams
	lastEncoderParams backend.EncoderParams
	lastScaleParams   backend.ScaleParams

	encoderPushes int
	scaleBuilt    bool
}

var _ backend.Backend = (*stubBackend)(nil)

func (b *stubBackend) String() string { return "stub" }

func (b *stubBackend) PixelFormatByName(
	_ context.Context,
	name string,
) (backend.PixelFormat, error) {
	depth := 8
	switch name {
	case "nv12", "yuv420p", "yuv422p", "bgr0":
	case "p010le", "yuv420p10le":
		depth = 10
	default:
		return nil, fmt.Errorf("unknown pixel format '%s'", name)
	}
	return stubPixelFormat{name: name, depth: depth}, nil
}

func (b *stubBackend) NewDevice(
	_ context.Context,
	params backend.DeviceParams,
) (backend.Device, error) {
	b.lastDeviceParams = params
	b.liveHandles++
	return &stubDevice{backend: b}, nil
}

type stubPixelFormat struct {
	name  string
	depth int
}

func (pf stubPixelFormat) String() string      { return pf.name }
func (pf stubPixelFormat) ComponentDepth() int { return pf.depth }

type stubDevice struct {
	backend *stubBackend
	closed  bool
}

func (d *stubDevice) NewSurfacePool(
	_ context.Context,
	params backend.PoolParams,
) (backend.SurfacePool, error) {
	if d.backend.failPoolInit {
		return nil, fmt.Errorf("pool init failed")
	}
	d.backend.lastPoolParams = params
	d.backend.liveHandles++
	return &stubPool{backend: d.backend}, nil
}

func (d *stubDevice) NewEncoder(
	_ context.Context,
	params backend.EncoderParams,
	_ backend.SurfacePool,
) (backend.Encoder, error) {
	d.backend.lastEncoderParams = params
	d.backend.liveHandles++
	return &stubEncoder{
		backend: d.backend,
		delay:   params.MaxBFrames + 1,
	}, nil
}

func (d *stubDevice) NewScaleGraph(
	_ context.Context,
	params backend.ScaleParams,
	_ backend.SurfacePool,
) (backend.ScaleGraph, error) {
	d.backend.lastScaleParams = params
	d.backend.scaleBuilt = true
	d.backend.liveHandles++
	return &stubScaleGraph{
		backend: d.backend,
		latency: d.backend.scaleLatency,
	}, nil
}

func (d *stubDevice) Close(context.Context) error {
	if !d.closed {
		d.closed = true
		d.backend.liveHandles--
	}
	return nil
}

type stubPool struct {
	backend *stubBackend
	closed  bool
}

func (p *stubPool) Acquire(context.Context) (backend.Surface, error) {
	if p.closed {
		return nil, fmt.Errorf("the pool is closed")
	}
	p.backend.liveSurfaces++
	return &stubSurface{backend: p.backend}, nil
}

func (p *stubPool) Close(context.Context) error {
	if !p.closed {
		p.closed = true
		p.backend.liveHandles--
	}
	return nil
}

type stubSurface struct {
	backend  *stubBackend
	pts      int64
	released bool
}

func (s *stubSurface) Upload(_ context.Context, data backend.FrameData) error {
	if s.backend.failUpload {
		return fmt.Errorf("transfer failed")
	}
	s.pts = data.PTS
	return nil
}

func (s *stubSurface) Release(context.Context) {
	if !s.released {
		s.released = true
		s.backend.liveSurfaces--
	}
}

// stubEncoder holds back `delay` frames the way a reordering codec
// session does, releasing everything once flushed.
type stubEncoder struct {
	backend *stubBackend
	delay   int
	queue   []int64
	flushed bool
	closed  bool
}

func (e *stubEncoder) Send(_ context.Context, surfaceIface backend.Surface) error {
	if e.closed {
		return fmt.Errorf("the encoder is closed")
	}
	if surfaceIface == nil {
		e.flushed = true
		return nil
	}
	s := surfaceIface.(*stubSurface)
	e.backend.encoderPushes++
	e.queue = append(e.queue, s.pts)
	return nil
}

func (e *stubEncoder) Receive(context.Context) (*backend.Packet, error) {
	if e.closed {
		return nil, fmt.Errorf("the encoder is closed")
	}
	if e.flushed {
		if len(e.queue) == 0 {
			return nil, backend.ErrEOF
		}
		return e.pop(), nil
	}
	if len(e.queue) > e.delay {
		return e.pop(), nil
	}
	return nil, backend.ErrAgain
}

func (e *stubEncoder) pop() *backend.Packet {
	pts := e.queue[0]
	e.queue = e.queue[1:]
	return &backend.Packet{
		Data:     []byte{0, 0, 0, 1, byte(pts)},
		PTS:      pts,
		KeyFrame: pts == 0,
	}
}

func (e *stubEncoder) Close(context.Context) error {
	if !e.closed {
		e.closed = true
		e.backend.liveHandles--
	}
	return nil
}

type stubScaleGraph struct {
	backend *stubBackend
	latency int
	buffer  []*stubSurface
	eos     bool
	closed  bool
}

func (g *stubScaleGraph) Push(_ context.Context, surfaceIface backend.Surface) error {
	if g.closed {
		return fmt.Errorf("the scale graph is closed")
	}
	if surfaceIface == nil {
		g.eos = true
		return nil
	}
	s := surfaceIface.(*stubSurface)
	g.backend.liveSurfaces++
	g.buffer = append(g.buffer, &stubSurface{backend: g.backend, pts: s.pts})
	return nil
}

func (g *stubScaleGraph) Pull(context.Context) (backend.Surface, error) {
	if g.closed {
		return nil, fmt.Errorf("the scale graph is closed")
	}
	if len(g.buffer) > 0 && (g.eos || len(g.buffer) > g.latency) {
		s := g.buffer[0]
		g.buffer = g.buffer[1:]
		return s, nil
	}
	if g.eos {
		return nil, backend.ErrEOF
	}
	return nil, backend.ErrAgain
}

func (g *stubScaleGraph) Close(ctx context.Context) error {
	if !g.closed {
		g.closed = true
		g.backend.liveHandles--
		for _, s := range g.buffer {
			s.Release(ctx)
		}
		g.buffer = nil
	}
	return nil
}
