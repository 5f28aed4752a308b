// Package hwve is a hardware video encoding pipeline: it uploads raw
// frames into device-resident surfaces, optionally rescales them on
// the device, and drains compressed bitstream packets from a hardware
// encoder session.
//
// The hardware itself is reached through the narrow interfaces of
// package backend; the production implementation is backend/libav.
package hwve

import (
	"context"
	"errors"
	"fmt"

	"github.com/facebookincubator/go-belt"
	"github.com/google/uuid"
	"github.com/xaionaro-go/hwve/backend"
	"github.com/xaionaro-go/hwve/logger"
	"github.com/xaionaro-go/typing"
	"github.com/xaionaro-go/xsync"
)

type pipelineInternals struct {
	Config  Config
	Backend backend.Backend

	device  backend.Device
	pool    backend.SurfacePool
	encoder backend.Encoder

	// scaler is nil unless the input dimensions differ from the
	// encoded dimensions.
	scaler backend.ScaleGraph

	// inFlight is the surface most recently handed to the encoder (or
	// to the scale graph); it is released at the start of the next
	// SubmitFrame call.
	inFlight typing.Optional[backend.Surface]

	frameIndex int64
	state      encodeState
	closed     bool
}

// Pipeline is one open encode pipeline.
//
// A Pipeline is a single-producer object: SubmitFrame and DrainPacket
// calls are expected from one goroutine at a time (the internal locker
// only protects against misuse, it is not a work queue).
type Pipeline struct {
	*pipelineInternals
	locker xsync.Mutex
}

// Open creates the device context, the hardware surface pool, the
// optional scaling graph and the encoder session described by cfg.
//
// On failure everything already constructed is torn down; the caller
// never receives a half-initialized pipeline.
func Open(
	ctx context.Context,
	b backend.Backend,
	cfg Config,
) (_ret *Pipeline, _err error) {
	cfg = cfg.withDefaults()
	ctx = belt.WithField(ctx, "pipeline_id", uuid.NewString())
	ctx = belt.WithField(ctx, "backend", b.String())
	logger.Tracef(ctx, "Open(ctx, %s, cfg)", b)
	defer func() { logger.Tracef(ctx, "/Open(ctx, %s, cfg): %p %v", b, _ret, _err) }()
	logger.Debugf(ctx, "config: %s", cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	softwareFormat, err := b.PixelFormatByName(ctx, cfg.PixelFormat)
	if err != nil {
		return nil, fmt.Errorf("unsupported pixel format '%s': %w", cfg.PixelFormat, err)
	}
	workingFormat, err := b.PixelFormatByName(ctx, workingFormatName(softwareFormat))
	if err != nil {
		return nil, fmt.Errorf("unable to resolve the working pixel format: %w", err)
	}
	logger.Debugf(ctx, "software format: %s (depth %d); working format: %s",
		softwareFormat, softwareFormat.ComponentDepth(), workingFormat)

	p := &Pipeline{
		pipelineInternals: &pipelineInternals{
			Config:  cfg,
			Backend: b,
			state:   encodeStateIdle,
		},
	}
	defer func() {
		if _err != nil {
			logger.Debugf(ctx, "got an error, closing the pipeline: %v", _err)
			_ = p.Close(ctx)
		}
	}()

	p.device, err = b.NewDevice(ctx, backend.DeviceParams{
		Type: cfg.DeviceType,
		Path: cfg.Device,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create the device context: %w", err)
	}

	inputWidth, inputHeight := cfg.inputSize()
	p.pool, err = p.device.NewSurfacePool(ctx, backend.PoolParams{
		Width:          inputWidth,
		Height:         inputHeight,
		SoftwareFormat: softwareFormat,
		TransferFormat: workingFormat,
		Size:           surfacePoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the surface pool: %w", err)
	}

	if cfg.scalingRequested() {
		p.scaler, err = p.device.NewScaleGraph(ctx, backend.ScaleParams{
			SrcWidth:  inputWidth,
			SrcHeight: inputHeight,
			DstWidth:  cfg.Width,
			DstHeight: cfg.Height,
			Framerate: cfg.Framerate,
		}, p.pool)
		if err != nil {
			return nil, fmt.Errorf("unable to build the scaling graph: %w", err)
		}
	}

	p.encoder, err = p.device.NewEncoder(ctx, cfg.encoderParams(), p.pool)
	if err != nil {
		return nil, fmt.Errorf("unable to open the encoder: %w", err)
	}

	return p, nil
}

// Drained reports whether a flushed pipeline has yielded its last
// packet.
func (p *Pipeline) Drained() bool {
	if p == nil {
		return false
	}
	return xsync.DoR1(context.TODO(), &p.locker, func() bool {
		return p.state == encodeStateDrained
	})
}

// Close releases everything the pipeline owns. It is idempotent and
// safe to call in any state, including on a nil pipeline.
func (p *Pipeline) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return xsync.DoA1R1(ctx, &p.locker, p.closeLocked, ctx)
}

func (p *pipelineInternals) closeLocked(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "closeLocked")
	defer func() { logger.Tracef(ctx, "/closeLocked: %v", _err) }()
	if p.closed {
		return nil
	}
	p.closed = true

	p.releaseInFlight(ctx)

	var errs []error
	if p.scaler != nil {
		if err := p.scaler.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the scaling graph: %w", err))
		}
		p.scaler = nil
	}
	if p.encoder != nil {
		if err := p.encoder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the encoder: %w", err))
		}
		p.encoder = nil
	}
	if p.pool != nil {
		if err := p.pool.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the surface pool: %w", err))
		}
		p.pool = nil
	}
	if p.device != nil {
		if err := p.device.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the device context: %w", err))
		}
		p.device = nil
	}
	return errors.Join(errs...)
}

func (p *pipelineInternals) releaseInFlight(ctx context.Context) {
	if !p.inFlight.IsSet() {
		return
	}
	p.inFlight.Get().Release(ctx)
	p.inFlight.Unset()
}
