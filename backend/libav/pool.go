package libav

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/hwve/backend"
	"github.com/xaionaro-go/hwve/logger"
	"github.com/xaionaro-go/xsync"
)

var _ backend.SurfacePool = (*SurfacePool)(nil)

type surfacePoolInternals struct {
	InitParams            backend.PoolParams
	device                *Device
	hardwareFramesContext *astiav.HardwareFramesContext
	softwarePixelFormat   astiav.PixelFormat
	transferPixelFormat   astiav.PixelFormat

	// staging is a reusable software frame the caller's planes are
	// packed into before the host-to-device transfer.
	staging *astiav.Frame

	closer *astikit.Closer
}

// SurfacePool is a fixed-size pool of device-resident frames plus the
// software staging frame used to upload into them.
type SurfacePool struct {
	*surfacePoolInternals
	locker xsync.Mutex
}

// NewSurfacePool pre-allocates params.Size hardware frames on the
// device.
func (d *Device) NewSurfacePool(
	ctx context.Context,
	params backend.PoolParams,
) (_ret backend.SurfacePool, _err error) {
	logger.Tracef(ctx, "NewSurfacePool(ctx, %#+v)", params)
	defer func() { logger.Tracef(ctx, "/NewSurfacePool(ctx, %#+v): %p %v", params, _ret, _err) }()

	transferFormat, err := asPixelFormat(params.TransferFormat)
	if err != nil {
		return nil, err
	}
	softwareFormat, err := asPixelFormat(params.SoftwareFormat)
	if err != nil {
		return nil, err
	}
	hardwarePixelFormat, err := d.hardwarePixelFormat()
	if err != nil {
		return nil, err
	}

	p := &SurfacePool{
		surfacePoolInternals: &surfacePoolInternals{
			InitParams:          params,
			device:              d,
			softwarePixelFormat: softwareFormat.raw,
			transferPixelFormat: transferFormat.raw,
			closer:              astikit.NewCloser(),
		},
	}
	defer func() {
		if _err != nil {
			logger.Debugf(ctx, "got an error, closing the surface pool: %v", _err)
			_ = p.Close(ctx)
		}
	}()

	hfc := astiav.AllocHardwareFramesContext(d.hardwareDeviceContext)
	if hfc == nil {
		return nil, fmt.Errorf("unable to allocate a hardware frames context")
	}
	p.hardwareFramesContext = hfc
	p.closer.Add(hfc.Free)

	hfc.SetWidth(params.Width)
	hfc.SetHeight(params.Height)
	hfc.SetHardwarePixelFormat(hardwarePixelFormat)
	hfc.SetSoftwarePixelFormat(transferFormat.raw)
	hfc.SetInitialPoolSize(params.Size)
	if err := hfc.Initialize(); err != nil {
		return nil, fmt.Errorf(
			"unable to initialize the hardware frames context (verify the pixel format %s is supported by the device): %w",
			transferFormat, err,
		)
	}

	staging := astiav.AllocFrame()
	if staging == nil {
		return nil, fmt.Errorf("unable to allocate the staging frame")
	}
	p.staging = staging
	p.closer.Add(staging.Free)

	staging.SetWidth(params.Width)
	staging.SetHeight(params.Height)
	staging.SetPixelFormat(softwareFormat.raw)
	if err := staging.AllocBuffer(1); err != nil {
		return nil, fmt.Errorf("unable to allocate the staging frame buffer: %w", err)
	}

	return p, nil
}

// Acquire takes one free hardware frame from the pool.
func (p *SurfacePool) Acquire(ctx context.Context) (_ret backend.Surface, _err error) {
	logger.Tracef(ctx, "Acquire")
	defer func() { logger.Tracef(ctx, "/Acquire: %p %v", _ret, _err) }()
	return xsync.DoA1R2(ctx, &p.locker, p.acquireLocked, ctx)
}

func (p *SurfacePool) acquireLocked(ctx context.Context) (backend.Surface, error) {
	if p.hardwareFramesContext == nil {
		return nil, fmt.Errorf("the surface pool is closed")
	}
	f := astiav.AllocFrame()
	if f == nil {
		return nil, fmt.Errorf("unable to allocate a frame")
	}
	if err := f.AllocHardwareBuffer(p.hardwareFramesContext); err != nil {
		f.Free()
		return nil, fmt.Errorf("unable to acquire a hardware frame buffer from the pool: %w", err)
	}
	return &surface{pool: p, frame: f}, nil
}

func (p *SurfacePool) Close(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &p.locker, p.closeLocked, ctx)
}

func (p *surfacePoolInternals) closeLocked(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "closeLocked")
	defer func() { logger.Tracef(ctx, "/closeLocked: %v", _err) }()
	defer func() {
		p.hardwareFramesContext = nil
		p.staging = nil
		p.closer = nil
	}()
	if p.closer == nil {
		return nil
	}
	belt.Flush(ctx)
	return p.closer.Close()
}

// uploadLocked packs the caller's (possibly padded) planes into the
// staging frame and transfers it into the hardware frame.
func (p *surfacePoolInternals) uploadLocked(
	ctx context.Context,
	hwFrame *astiav.Frame,
	data backend.FrameData,
) (_err error) {
	logger.Tracef(ctx, "uploadLocked(ctx, %p, pts:%d)", hwFrame, data.PTS)
	defer func() { logger.Tracef(ctx, "/uploadLocked(ctx, %p, pts:%d): %v", hwFrame, data.PTS, _err) }()

	if p.staging == nil {
		return fmt.Errorf("the surface pool is closed")
	}

	stagingLinesize := p.staging.Linesize()
	packed, err := packPlanes(data, stagingLinesize[:])
	if err != nil {
		return fmt.Errorf("unable to pack the input planes: %w", err)
	}
	if err := p.staging.Data().SetBytes(packed, 1); err != nil {
		return fmt.Errorf("unable to fill the staging frame: %w", err)
	}
	p.staging.SetPts(data.PTS)

	if err := p.staging.TransferHardwareData(hwFrame); err != nil {
		return fmt.Errorf("unable to transfer the frame data to the hardware: %w", err)
	}
	hwFrame.SetPts(data.PTS)
	return nil
}

// packPlanes re-packs the caller's planes (which may carry row
// padding) into one contiguous buffer with the staging frame's
// alignment-1 row strides. Every plane must hold a whole number of
// rows, including the last row's padding.
func packPlanes(data backend.FrameData, dstLinesize []int) ([]byte, error) {
	total := 0
	for i := 0; i < backend.NumDataPointers; i++ {
		if data.Data[i] == nil {
			continue
		}
		if data.Linesize[i] <= 0 {
			return nil, fmt.Errorf("plane %d has data but no linesize", i)
		}
		if len(data.Data[i])%data.Linesize[i] != 0 {
			return nil, fmt.Errorf(
				"plane %d holds %d bytes, which is not a whole number of %d-byte rows",
				i, len(data.Data[i]), data.Linesize[i],
			)
		}
		rows := len(data.Data[i]) / data.Linesize[i]
		total += rows * dstLinesize[i]
	}
	if total == 0 {
		return nil, fmt.Errorf("no planes provided")
	}

	packed := make([]byte, 0, total)
	for i := 0; i < backend.NumDataPointers; i++ {
		if data.Data[i] == nil {
			continue
		}
		srcStride := data.Linesize[i]
		dstStride := dstLinesize[i]
		copyLen := min(srcStride, dstStride)
		rows := len(data.Data[i]) / srcStride
		for row := 0; row < rows; row++ {
			rowStart := row * srcStride
			packed = append(packed, data.Data[i][rowStart:rowStart+copyLen]...)
			for pad := copyLen; pad < dstStride; pad++ {
				packed = append(packed, 0)
			}
		}
	}
	return packed, nil
}

var _ backend.Surface = (*surface)(nil)

type surface struct {
	pool  *SurfacePool
	frame *astiav.Frame
}

func (s *surface) Upload(ctx context.Context, data backend.FrameData) error {
	return xsync.DoA3R1(ctx, &s.pool.locker, s.pool.uploadLocked, ctx, s.frame, data)
}

func (s *surface) Release(ctx context.Context) {
	logger.Tracef(ctx, "Release: %p", s.frame)
	if s.frame == nil {
		return
	}
	s.frame.Free()
	s.frame = nil
}
