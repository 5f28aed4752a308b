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

var _ backend.ScaleGraph = (*ScaleGraph)(nil)

type scaleGraphInternals struct {
	InitParams  backend.ScaleParams
	pool        *SurfacePool
	filterGraph *astiav.FilterGraph
	srcContext  *astiav.BuffersrcFilterContext
	sinkContext *astiav.BuffersinkFilterContext
	closer      *astikit.Closer
}

// ScaleGraph is a rescaling filter graph operating on device-resident
// frames.
type ScaleGraph struct {
	*scaleGraphInternals
	locker xsync.Mutex
}

// scaleDescription is the filter chain rescaling on the device itself,
// without round-tripping through host memory.
func scaleDescription(deviceType astiav.HardwareDeviceType, params backend.ScaleParams) (string, error) {
	switch deviceType {
	case astiav.HardwareDeviceTypeVAAPI:
		return fmt.Sprintf("[in]scale_vaapi=w=%d:h=%d[out]", params.DstWidth, params.DstHeight), nil
	case astiav.HardwareDeviceTypeCUDA:
		return fmt.Sprintf("[in]scale_cuda=w=%d:h=%d[out]", params.DstWidth, params.DstHeight), nil
	case astiav.HardwareDeviceTypeQSV:
		return fmt.Sprintf("[in]scale_qsv=w=%d:h=%d[out]", params.DstWidth, params.DstHeight), nil
	}
	return "", fmt.Errorf("no known scale filter for device type %s", deviceType)
}

// NewScaleGraph builds a hardware rescaling graph fed from the given
// surface pool.
func (d *Device) NewScaleGraph(
	ctx context.Context,
	params backend.ScaleParams,
	poolIface backend.SurfacePool,
) (_ret backend.ScaleGraph, _err error) {
	logger.Tracef(ctx, "NewScaleGraph(ctx, %#+v)", params)
	defer func() { logger.Tracef(ctx, "/NewScaleGraph(ctx, %#+v): %p %v", params, _ret, _err) }()

	pool, ok := poolIface.(*SurfacePool)
	if !ok {
		return nil, fmt.Errorf("surface pool %T is not a libav surface pool", poolIface)
	}

	hardwarePixelFormat, err := d.hardwarePixelFormat()
	if err != nil {
		return nil, err
	}
	description, err := scaleDescription(d.DeviceType, params)
	if err != nil {
		return nil, err
	}

	g := &ScaleGraph{
		scaleGraphInternals: &scaleGraphInternals{
			InitParams: params,
			pool:       pool,
			closer:     astikit.NewCloser(),
		},
	}
	defer func() {
		if _err != nil {
			logger.Debugf(ctx, "got an error, closing the scale graph: %v", _err)
			_ = g.Close(ctx)
		}
	}()

	g.filterGraph = astiav.AllocFilterGraph()
	if g.filterGraph == nil {
		return nil, fmt.Errorf("unable to allocate a filter graph")
	}
	g.closer.Add(g.filterGraph.Free)

	srcFilter := astiav.FindFilterByName("buffer")
	sinkFilter := astiav.FindFilterByName("buffersink")
	if srcFilter == nil || sinkFilter == nil {
		return nil, fmt.Errorf("unable to find the buffer or buffersink filters")
	}

	g.srcContext, err = g.filterGraph.NewBuffersrcFilterContext(srcFilter, "in")
	if err != nil {
		return nil, fmt.Errorf("unable to create the buffersrc context: %w", err)
	}
	g.sinkContext, err = g.filterGraph.NewBuffersinkFilterContext(sinkFilter, "out")
	if err != nil {
		return nil, fmt.Errorf("unable to create the buffersink context: %w", err)
	}

	srcParams := astiav.AllocBuffersrcFilterContextParameters()
	defer srcParams.Free()
	srcParams.SetWidth(params.SrcWidth)
	srcParams.SetHeight(params.SrcHeight)
	srcParams.SetPixelFormat(hardwarePixelFormat)
	srcParams.SetTimeBase(astiav.NewRational(1, params.Framerate))
	srcParams.SetSampleAspectRatio(astiav.NewRational(1, 1))
	// the frames context propagates the device binding through the graph
	srcParams.SetHardwareFramesContext(pool.hardwareFramesContext)

	if err := g.srcContext.SetParameters(srcParams); err != nil {
		return nil, fmt.Errorf("unable to set the buffersrc parameters: %w", err)
	}
	if err := g.srcContext.Initialize(nil); err != nil {
		return nil, fmt.Errorf("unable to initialize the buffersrc: %w", err)
	}

	outputs := astiav.AllocFilterInOut()
	defer outputs.Free()
	outputs.SetName("in")
	outputs.SetFilterContext(g.srcContext.FilterContext())
	outputs.SetPadIdx(0)
	outputs.SetNext(nil)

	inputs := astiav.AllocFilterInOut()
	defer inputs.Free()
	inputs.SetName("out")
	inputs.SetFilterContext(g.sinkContext.FilterContext())
	inputs.SetPadIdx(0)
	inputs.SetNext(nil)

	if err := g.filterGraph.Parse(description, inputs, outputs); err != nil {
		return nil, fmt.Errorf("unable to parse the filter description %q: %w", description, err)
	}
	if err := g.filterGraph.Configure(); err != nil {
		return nil, fmt.Errorf("unable to configure the filter graph: %w", err)
	}

	return g, nil
}

// Push feeds one surface into the graph; nil marks end of stream.
func (g *ScaleGraph) Push(ctx context.Context, surfaceIface backend.Surface) (_err error) {
	logger.Tracef(ctx, "Push(ctx, %v)", surfaceIface)
	defer func() { logger.Tracef(ctx, "/Push(ctx, %v): %v", surfaceIface, _err) }()
	return xsync.DoA2R1(ctx, &g.locker, g.pushLocked, ctx, surfaceIface)
}

func (g *scaleGraphInternals) pushLocked(ctx context.Context, surfaceIface backend.Surface) error {
	if g.filterGraph == nil {
		return fmt.Errorf("the scale graph is closed")
	}

	var f *astiav.Frame
	if surfaceIface != nil {
		s, ok := surfaceIface.(*surface)
		if !ok {
			return fmt.Errorf("surface %T is not a libav surface", surfaceIface)
		}
		f = s.frame
	}

	flags := astiav.NewBuffersrcFlags(astiav.BuffersrcFlagKeepRef, astiav.BuffersrcFlagPush)
	if err := g.srcContext.AddFrame(f, flags); err != nil {
		return fmt.Errorf("unable to push the frame into the scale graph: %w", err)
	}
	return nil
}

// Pull retrieves one rescaled surface.
func (g *ScaleGraph) Pull(ctx context.Context) (_ret backend.Surface, _err error) {
	logger.Tracef(ctx, "Pull")
	defer func() { logger.Tracef(ctx, "/Pull: %p %v", _ret, _err) }()
	return xsync.DoA1R2(ctx, &g.locker, g.pullLocked, ctx)
}

func (g *scaleGraphInternals) pullLocked(ctx context.Context) (backend.Surface, error) {
	if g.filterGraph == nil {
		return nil, fmt.Errorf("the scale graph is closed")
	}

	f := astiav.AllocFrame()
	err := g.sinkContext.GetFrame(f, astiav.NewBuffersinkFlags())
	switch err {
	case nil:
	case astiav.ErrEagain:
		f.Free()
		return nil, backend.ErrAgain
	case astiav.ErrEof:
		f.Free()
		return nil, backend.ErrEOF
	default:
		f.Free()
		return nil, fmt.Errorf("unable to pull a frame from the scale graph: %w", err)
	}
	return &surface{pool: g.pool, frame: f}, nil
}

func (g *ScaleGraph) Close(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &g.locker, g.closeLocked, ctx)
}

func (g *scaleGraphInternals) closeLocked(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "closeLocked")
	defer func() { logger.Tracef(ctx, "/closeLocked: %v", _err) }()
	defer func() {
		g.filterGraph = nil
		g.srcContext = nil
		g.sinkContext = nil
		g.closer = nil
	}()
	if g.closer == nil {
		return nil
	}
	belt.Flush(ctx)
	return g.closer.Close()
}
