// Package backend defines the narrow interfaces the encode pipeline
// consumes from a hardware capability provider: device contexts,
// hardware surface pools, encoder sessions and scale graphs.
//
// The package is deliberately dependency-free so that alternative
// implementations (including test stubs) do not pull cgo in; the
// production implementation lives in backend/libav.
package backend

import (
	"context"
	"fmt"
)

// NumDataPointers is the fixed number of plane slots in a FrameData,
// matching the maximum plane count of the underlying media stack.
const NumDataPointers = 8

// FrameData carries the caller-supplied planar image for one frame.
//
// Data holds one slice per plane (unused planes are nil), Linesize the
// matching row strides in bytes (width plus padding). The memory stays
// owned by the caller; implementations read it only for the duration
// of an Upload call.
type FrameData struct {
	Data     [NumDataPointers][]byte
	Linesize [NumDataPointers]int
	PTS      int64
}

// Packet is one compressed bitstream unit produced by an Encoder.
//
// The storage behind Data is owned by the encoder session and is only
// guaranteed to stay valid until the next Receive call or until the
// session is closed, whichever comes first.
type Packet struct {
	Data     []byte
	PTS      int64
	KeyFrame bool
}

// PixelFormat is a typed descriptor of a pixel layout known to the
// backend, obtained through Backend.PixelFormatByName.
type PixelFormat interface {
	fmt.Stringer

	// ComponentDepth reports the maximum bit depth across the format's
	// components (e.g. 8 for nv12, 10 for p010le).
	ComponentDepth() int
}

// DeviceParams selects the hardware device to bind a Device to.
type DeviceParams struct {
	// Type is the device family, e.g. "vaapi", "cuda", "qsv".
	Type string

	// Path optionally points at a concrete device instance, e.g.
	// "/dev/dri/renderD128"; empty selects automatically.
	Path string
}

// PoolParams describes a fixed-size pool of hardware surfaces.
type PoolParams struct {
	Width  int
	Height int

	// SoftwareFormat is the pixel format of the frames the caller
	// uploads (the staging side of the pool).
	SoftwareFormat PixelFormat

	// TransferFormat is the working pixel format the hardware surfaces
	// are allocated in.
	TransferFormat PixelFormat

	// Size is the number of surfaces pre-allocated in the pool.
	Size int
}

// EncoderParams describes one encoder session.
//
// Rate control is mutually exclusive: a non-zero BitRate selects the
// average-bitrate mode and QP must be zero; a non-zero QP selects the
// fixed-quantizer mode. With both zero the backend default quantizer
// applies.
type EncoderParams struct {
	Codec     string
	Width     int
	Height    int
	Framerate int

	// Profile is the codec profile constant; 0 lets the backend guess
	// from the input.
	Profile int

	MaxBFrames int
	BitRate    int64
	QP         int

	// GopSize is the group-of-pictures size: 0 keeps the backend
	// default, -1 requests intra-only.
	GopSize int

	// CompressionLevel is the backend-specific speed/quality trade-off;
	// 0 keeps the backend default.
	CompressionLevel int

	// LowPower selects the alternative low-power encode path where the
	// hardware supports one.
	LowPower bool

	// Preset, OutputDelay and ZeroLatency are encoder-specific tuning
	// knobs passed through opaquely. OutputDelay 0 keeps the backend
	// default; -1 requests no delay.
	Preset      string
	OutputDelay int
	ZeroLatency bool
}

// ScaleParams describes a hardware rescaling graph from the source
// dimensions to the destination dimensions.
type ScaleParams struct {
	SrcWidth  int
	SrcHeight int
	DstWidth  int
	DstHeight int
	Framerate int
}

// Backend is the entry point of a capability provider.
type Backend interface {
	fmt.Stringer

	// PixelFormatByName resolves a pixel format identifier against the
	// backend's registry.
	PixelFormatByName(ctx context.Context, name string) (PixelFormat, error)

	// NewDevice creates a device context.
	NewDevice(ctx context.Context, params DeviceParams) (Device, error)
}

// Device is an owned hardware device context.
type Device interface {
	NewSurfacePool(ctx context.Context, params PoolParams) (SurfacePool, error)

	// NewEncoder opens an encoder session bound to the given surface
	// pool (the session consumes surfaces allocated from that pool).
	NewEncoder(ctx context.Context, params EncoderParams, pool SurfacePool) (Encoder, error)

	// NewScaleGraph builds a rescaling graph operating on the same
	// memory domain as the given surface pool.
	NewScaleGraph(ctx context.Context, params ScaleParams, pool SurfacePool) (ScaleGraph, error)

	Close(ctx context.Context) error
}

// SurfacePool is a fixed-size set of hardware-resident frame buffers.
type SurfacePool interface {
	// Acquire obtains one free surface from the pool. The surface must
	// be released (or the pool closed) to return the storage.
	Acquire(ctx context.Context) (Surface, error)

	Close(ctx context.Context) error
}

// Surface is one hardware-resident frame buffer.
type Surface interface {
	// Upload transfers the caller's software frame into the surface
	// (host to device).
	Upload(ctx context.Context, frame FrameData) error

	// Release returns the surface storage to its pool.
	Release(ctx context.Context)
}

// Encoder is one codec session.
//
// The session buffers frames internally (e.g. for B-frame reordering),
// so output packets lag input surfaces; Receive communicates the lag
// through ErrAgain and the post-flush exhaustion through ErrEOF.
type Encoder interface {
	// Send submits one surface for encoding; a nil surface flushes the
	// session. Flushing is idempotent, submitting surfaces after a
	// flush is not supported.
	Send(ctx context.Context, surface Surface) error

	// Receive pulls one compressed packet. It returns ErrAgain when the
	// session needs more input and ErrEOF when a flushed session has
	// nothing left; any other error is fatal.
	Receive(ctx context.Context) (*Packet, error)

	Close(ctx context.Context) error
}

// ScaleGraph is a hardware rescaling graph. It may buffer surfaces
// internally, hence the same ErrAgain/ErrEOF protocol as Encoder.
type ScaleGraph interface {
	// Push feeds one surface into the graph; a nil surface marks end of
	// stream.
	Push(ctx context.Context, surface Surface) error

	// Pull retrieves one rescaled surface. It returns ErrAgain when the
	// graph needs more input and ErrEOF after the end-of-stream mark
	// has propagated; any other error is fatal. The returned surface is
	// owned by the caller and must be released.
	Pull(ctx context.Context) (Surface, error)

	Close(ctx context.Context) error
}
