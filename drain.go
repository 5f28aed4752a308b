package hwve

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/hwve/backend"
	"github.com/xaionaro-go/hwve/logger"
	"github.com/xaionaro-go/xsync"
)

// encodeState tracks the encoder session through its lifecycle.
type encodeState int

const (
	encodeStateIdle encodeState = iota
	encodeStateRunning
	encodeStateFlushing
	encodeStateDrained
)

func (s encodeState) String() string {
	switch s {
	case encodeStateIdle:
		return "idle"
	case encodeStateRunning:
		return "running"
	case encodeStateFlushing:
		return "flushing"
	case encodeStateDrained:
		return "drained"
	default:
		return fmt.Sprintf("<unknown:%d>", int(s))
	}
}

// DrainPacket pulls one compressed packet if the encoder has one
// ready.
//
// A nil packet with a nil error is not a failure: it means the encoder
// needs more input, or, after a flush, that the stream fully drained;
// use Drained to tell the two apart. Callers are expected to drain in
// a loop after every SubmitFrame and, after the flush, to keep
// draining until Drained reports true.
func (p *Pipeline) DrainPacket(ctx context.Context) (_ret *Packet, _err error) {
	logger.Tracef(ctx, "DrainPacket")
	defer func() { logger.Tracef(ctx, "/DrainPacket: %v %v", _ret, _err) }()
	return xsync.DoA1R2(ctx, &p.locker, p.drainPacketLocked, ctx)
}

func (p *pipelineInternals) drainPacketLocked(ctx context.Context) (*Packet, error) {
	if p.closed {
		return nil, fmt.Errorf("the pipeline is closed")
	}

	pkt, err := p.encoder.Receive(ctx)
	switch {
	case err == nil:
		return &Packet{
			Data:     pkt.Data,
			PTS:      pkt.PTS,
			KeyFrame: pkt.KeyFrame,
		}, nil
	case errors.Is(err, backend.ErrAgain):
		return nil, nil
	case errors.Is(err, backend.ErrEOF):
		if p.state == encodeStateFlushing {
			logger.Debugf(ctx, "state: %s -> %s", p.state, encodeStateDrained)
			p.state = encodeStateDrained
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unable to receive a packet from the encoder: %w", err)
	}
}
