package hwve

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/hwve/backend"
	"github.com/xaionaro-go/hwve/internal"
	"github.com/xaionaro-go/hwve/logger"
	"github.com/xaionaro-go/typing"
	"github.com/xaionaro-go/xsync"
)

// SubmitFrame uploads one raw frame and feeds it through the optional
// scaling stage into the encoder; a nil frame flushes the pipeline.
//
// Any previous in-flight surface is released first, so at most one
// surface sits between upload and encode at any time. Submitting a
// frame after a flush is an error.
func (p *Pipeline) SubmitFrame(ctx context.Context, frame *Frame) (_err error) {
	logger.Tracef(ctx, "SubmitFrame(ctx, %p)", frame)
	defer func() { logger.Tracef(ctx, "/SubmitFrame(ctx, %p): %v", frame, _err) }()
	return xsync.DoA2R1(ctx, &p.locker, p.submitFrameLocked, ctx, frame)
}

func (p *pipelineInternals) submitFrameLocked(ctx context.Context, frame *Frame) error {
	if p.closed {
		return fmt.Errorf("the pipeline is closed")
	}

	p.releaseInFlight(ctx)
	internal.Assert(ctx, !p.inFlight.IsSet())

	if frame == nil {
		return p.flushLocked(ctx)
	}
	if p.state == encodeStateFlushing || p.state == encodeStateDrained {
		return fmt.Errorf("cannot submit a frame after a flush (state: %s)", p.state)
	}

	surface, err := p.uploadLocked(ctx, frame)
	if err != nil {
		return err
	}
	p.inFlight = typing.Opt(surface)
	p.frameIndex++

	if p.scaler == nil {
		if err := p.encoder.Send(ctx, surface); err != nil {
			return fmt.Errorf("unable to submit the frame to the encoder: %w", err)
		}
		p.state = encodeStateRunning
		return nil
	}

	if err := p.scaler.Push(ctx, surface); err != nil {
		return fmt.Errorf("unable to push the frame into the scaling graph: %w", err)
	}
	if err := p.forwardScaled(ctx); err != nil {
		return err
	}
	p.state = encodeStateRunning
	return nil
}

// uploadLocked acquires one surface from the pool and transfers the
// caller's planes into it; the PTS is stamped from the running frame
// counter (in 1/framerate units).
func (p *pipelineInternals) uploadLocked(ctx context.Context, frame *Frame) (backend.Surface, error) {
	surface, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to acquire a hardware surface from the pool: %w", err)
	}
	data := backend.FrameData{
		Data:     frame.Data,
		Linesize: frame.Linesize,
		PTS:      p.frameIndex,
	}
	if err := surface.Upload(ctx, data); err != nil {
		surface.Release(ctx)
		return nil, fmt.Errorf("unable to transfer the frame to the hardware surface: %w", err)
	}
	return surface, nil
}

// flushLocked pushes end-of-stream through the scaling graph (fully
// draining it into the encoder first) and then flushes the encoder.
// Repeated flushes are tolerated pass-throughs.
func (p *pipelineInternals) flushLocked(ctx context.Context) error {
	logger.Debugf(ctx, "flushing (state: %s)", p.state)

	if p.scaler != nil && p.state != encodeStateFlushing && p.state != encodeStateDrained {
		if err := p.scaler.Push(ctx, nil); err != nil {
			return fmt.Errorf("unable to push end-of-stream into the scaling graph: %w", err)
		}
		if err := p.forwardScaled(ctx); err != nil {
			return err
		}
	}

	if err := p.encoder.Send(ctx, nil); err != nil {
		return fmt.Errorf("unable to flush the encoder: %w", err)
	}
	if p.state != encodeStateDrained {
		p.state = encodeStateFlushing
	}
	return nil
}

// forwardScaled pulls every rescaled surface currently available from
// the scaling graph and submits it to the encoder. "Need more input"
// and "end of stream" both end the loop without error.
func (p *pipelineInternals) forwardScaled(ctx context.Context) error {
	for {
		scaled, err := p.scaler.Pull(ctx)
		switch {
		case err == nil:
		case errors.Is(err, backend.ErrAgain), errors.Is(err, backend.ErrEOF):
			return nil
		default:
			return fmt.Errorf("unable to pull a rescaled surface from the scaling graph: %w", err)
		}

		err = p.encoder.Send(ctx, scaled)
		scaled.Release(ctx)
		if err != nil {
			return fmt.Errorf("unable to submit the rescaled frame to the encoder: %w", err)
		}
	}
}
