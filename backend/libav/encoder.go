package libav

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/hwve/backend"
	"github.com/xaionaro-go/hwve/internal"
	"github.com/xaionaro-go/hwve/logger"
	"github.com/xaionaro-go/xsync"
)

var _ backend.Encoder = (*Encoder)(nil)

type encoderInternals struct {
	InitParams   backend.EncoderParams
	codec        *astiav.Codec
	codecContext *astiav.CodecContext

	// packet is reused across Receive calls; its payload stays valid
	// only until the next Receive.
	packet *astiav.Packet

	closer *astikit.Closer
}

// Encoder is one opened hardware encoder session.
type Encoder struct {
	*encoderInternals
	locker xsync.Mutex
}

// NewEncoder opens the encoder described by params, consuming frames
// from the given surface pool.
func (d *Device) NewEncoder(
	ctx context.Context,
	params backend.EncoderParams,
	poolIface backend.SurfacePool,
) (_ret backend.Encoder, _err error) {
	ctx = belt.WithField(ctx, "codec_name", params.Codec)
	logger.Tracef(ctx, "NewEncoder(ctx, %#+v)", params)
	defer func() { logger.Tracef(ctx, "/NewEncoder(ctx, %#+v): %p %v", params, _ret, _err) }()

	pool, ok := poolIface.(*SurfacePool)
	if !ok {
		return nil, fmt.Errorf("surface pool %T is not a libav surface pool", poolIface)
	}

	hardwarePixelFormat, err := d.hardwarePixelFormat()
	if err != nil {
		return nil, err
	}

	e := &Encoder{
		encoderInternals: &encoderInternals{
			InitParams: params,
			closer:     astikit.NewCloser(),
		},
	}
	defer func() {
		if _err != nil {
			logger.Debugf(ctx, "got an error, closing the encoder: %v", _err)
			_ = e.Close(ctx)
		}
	}()

	e.codec = astiav.FindEncoderByName(params.Codec)
	if e.codec == nil {
		return nil, fmt.Errorf("unable to find an encoder named '%s'", params.Codec)
	}

	e.codecContext = astiav.AllocCodecContext(e.codec)
	if e.codecContext == nil {
		return nil, fmt.Errorf("unable to allocate a codec context")
	}
	e.closer.Add(e.codecContext.Free)

	e.codecContext.SetWidth(params.Width)
	e.codecContext.SetHeight(params.Height)
	e.codecContext.SetTimeBase(astiav.NewRational(1, params.Framerate))
	e.codecContext.SetFramerate(astiav.NewRational(params.Framerate, 1))
	e.codecContext.SetMaxBFrames(params.MaxBFrames)
	e.codecContext.SetPixelFormat(hardwarePixelFormat)
	if params.Profile != 0 {
		e.codecContext.SetProfile(astiav.Profile(params.Profile))
	}
	switch {
	case params.GopSize == -1:
		// intra-only
		e.codecContext.SetGopSize(0)
	case params.GopSize > 0:
		e.codecContext.SetGopSize(params.GopSize)
	}
	if params.BitRate > 0 {
		e.codecContext.SetBitRate(params.BitRate)
	}

	options := astiav.NewDictionary()
	internal.SetFinalizerFree(ctx, options)
	logIfError := func(err error) {
		if err != nil {
			logger.Errorf(ctx, "got an error: %v", err)
		}
	}
	if params.BitRate <= 0 && params.QP > 0 {
		logIfError(options.Set("qp", fmt.Sprintf("%d", params.QP), 0))
	}
	if params.LowPower {
		logIfError(options.Set("low_power", "1", 0))
	}
	if params.CompressionLevel != 0 {
		logIfError(options.Set("compression_level", fmt.Sprintf("%d", params.CompressionLevel), 0))
	}
	if params.Preset != "" {
		logIfError(options.Set("preset", params.Preset, 0))
	}
	if params.OutputDelay != 0 {
		delay := params.OutputDelay
		if delay == -1 {
			delay = 0
		}
		logIfError(options.Set("delay", fmt.Sprintf("%d", delay), 0))
	}
	if params.ZeroLatency {
		logIfError(options.Set("zerolatency", "1", 0))
	}

	// When the session encodes at different dimensions than the upload
	// pool (the scaling case), it gets its own frames context at the
	// encode dimensions; the scaled frames arrive on the same device in
	// the same working format.
	if params.Width != pool.InitParams.Width || params.Height != pool.InitParams.Height {
		hfc := astiav.AllocHardwareFramesContext(d.hardwareDeviceContext)
		if hfc == nil {
			return nil, fmt.Errorf("unable to allocate a hardware frames context for the encoder")
		}
		e.closer.Add(hfc.Free)
		hfc.SetWidth(params.Width)
		hfc.SetHeight(params.Height)
		hfc.SetHardwarePixelFormat(hardwarePixelFormat)
		hfc.SetSoftwarePixelFormat(pool.transferPixelFormat)
		hfc.SetInitialPoolSize(pool.InitParams.Size)
		if err := hfc.Initialize(); err != nil {
			return nil, fmt.Errorf("unable to initialize the encoder's hardware frames context: %w", err)
		}
		e.codecContext.SetHardwareFramesContext(hfc)
	} else {
		e.codecContext.SetHardwareFramesContext(pool.hardwareFramesContext)
	}

	logger.Tracef(ctx, "e.codecContext.Open(%#+v, %#+v)", e.codec, options)
	if err := e.codecContext.Open(e.codec, options); err != nil {
		return nil, fmt.Errorf("unable to open the codec context: %w", err)
	}

	e.packet = astiav.AllocPacket()
	if e.packet == nil {
		return nil, fmt.Errorf("unable to allocate a packet")
	}
	e.closer.Add(e.packet.Free)

	return e, nil
}

// Send submits one surface for encoding; nil flushes the session.
func (e *Encoder) Send(ctx context.Context, surfaceIface backend.Surface) (_err error) {
	logger.Tracef(ctx, "Send(ctx, %v)", surfaceIface)
	defer func() { logger.Tracef(ctx, "/Send(ctx, %v): %v", surfaceIface, _err) }()
	return xsync.DoA2R1(ctx, &e.locker, e.sendLocked, ctx, surfaceIface)
}

func (e *encoderInternals) sendLocked(ctx context.Context, surfaceIface backend.Surface) error {
	if e.codecContext == nil {
		return fmt.Errorf("the encoder is closed")
	}

	var f *astiav.Frame
	if surfaceIface != nil {
		s, ok := surfaceIface.(*surface)
		if !ok {
			return fmt.Errorf("surface %T is not a libav surface", surfaceIface)
		}
		f = s.frame
	}

	if err := e.codecContext.SendFrame(f); err != nil {
		if f == nil && err == astiav.ErrEof {
			logger.Debugf(ctx, "the encoder is already flushed")
			return nil
		}
		return fmt.Errorf("unable to send the frame to the encoder: %w", err)
	}
	return nil
}

// Receive pulls one compressed packet.
func (e *Encoder) Receive(ctx context.Context) (_ret *backend.Packet, _err error) {
	logger.Tracef(ctx, "Receive")
	defer func() { logger.Tracef(ctx, "/Receive: %v %v", _ret, _err) }()
	return xsync.DoA1R2(ctx, &e.locker, e.receiveLocked, ctx)
}

func (e *encoderInternals) receiveLocked(ctx context.Context) (*backend.Packet, error) {
	if e.codecContext == nil {
		return nil, fmt.Errorf("the encoder is closed")
	}

	e.packet.Unref()
	err := e.codecContext.ReceivePacket(e.packet)
	switch err {
	case nil:
	case astiav.ErrEagain:
		return nil, backend.ErrAgain
	case astiav.ErrEof:
		return nil, backend.ErrEOF
	default:
		return nil, fmt.Errorf("unable to receive a packet from the encoder: %w", err)
	}

	return &backend.Packet{
		Data:     e.packet.Data(),
		PTS:      e.packet.Pts(),
		KeyFrame: e.packet.Flags().Has(astiav.PacketFlagKey),
	}, nil
}

func (e *Encoder) Close(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &e.locker, e.closeLocked, ctx)
}

func (e *encoderInternals) closeLocked(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "closeLocked")
	defer func() { logger.Tracef(ctx, "/closeLocked: %v", _err) }()
	defer func() {
		e.codec = nil
		e.codecContext = nil
		e.packet = nil
		e.closer = nil
	}()
	if e.closer == nil {
		return nil
	}
	belt.Flush(ctx)
	return e.closer.Close()
}
