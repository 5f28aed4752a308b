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

var _ backend.Device = (*Device)(nil)

type deviceInternals struct {
	DeviceType            astiav.HardwareDeviceType
	hardwareDeviceContext *astiav.HardwareDeviceContext
	closer                *astikit.Closer
}

// Device is one opened hardware device context.
type Device struct {
	*deviceInternals
	locker xsync.Mutex
}

// NewDevice opens the hardware device described by params.
func (b *Backend) NewDevice(
	ctx context.Context,
	params backend.DeviceParams,
) (_ret backend.Device, _err error) {
	ctx = belt.WithField(ctx, "hw_dev_type", params.Type)
	logger.Tracef(ctx, "NewDevice(ctx, %#+v)", params)
	defer func() { logger.Tracef(ctx, "/NewDevice(ctx, %#+v): %p %v", params, _ret, _err) }()

	deviceType := astiav.FindHardwareDeviceTypeByName(params.Type)
	if deviceType == astiav.HardwareDeviceTypeNone {
		return nil, fmt.Errorf("unknown hardware device type '%s'", params.Type)
	}

	d := &Device{
		deviceInternals: &deviceInternals{
			DeviceType: deviceType,
			closer:     astikit.NewCloser(),
		},
	}
	defer func() {
		if _err != nil {
			logger.Debugf(ctx, "got an error, closing the device: %v", _err)
			_ = d.Close(ctx)
		}
	}()

	var err error
	d.hardwareDeviceContext, err = astiav.CreateHardwareDeviceContext(
		deviceType,
		params.Path,
		nil,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create hardware (%s:%s) device context: %w", params.Type, params.Path, err)
	}
	d.closer.Add(d.hardwareDeviceContext.Free)
	logger.Tracef(ctx, "HardwareDeviceContext: %p", d.hardwareDeviceContext)
	return d, nil
}

// hardwarePixelFormat is the pixel format frames take while resident
// on this device.
func (d *Device) hardwarePixelFormat() (astiav.PixelFormat, error) {
	switch d.DeviceType {
	case astiav.HardwareDeviceTypeVAAPI:
		return astiav.PixelFormatVaapi, nil
	case astiav.HardwareDeviceTypeCUDA:
		return astiav.PixelFormatCuda, nil
	case astiav.HardwareDeviceTypeQSV:
		return astiav.PixelFormatQsv, nil
	}
	return astiav.PixelFormatNone, fmt.Errorf("no known hardware pixel format for device type %s", d.DeviceType)
}

func (d *Device) Close(ctx context.Context) error {
	return xsync.DoA1R1(ctx, &d.locker, d.closeLocked, ctx)
}

func (d *deviceInternals) closeLocked(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "closeLocked")
	defer func() { logger.Tracef(ctx, "/closeLocked: %v", _err) }()
	defer func() {
		d.hardwareDeviceContext = nil
		d.closer = nil
	}()
	if d.closer == nil {
		return nil
	}
	belt.Flush(ctx)
	return d.closer.Close()
}
