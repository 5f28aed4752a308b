package hwve

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/xaionaro-go/hwve/backend"
)

const (
	// surfacePoolSize is the number of hardware surfaces pre-allocated
	// per pipeline.
	surfacePoolSize = 20

	// working/transfer formats the hardware surfaces are allocated in;
	// see Config.PixelFormat.
	workingPixelFormat8Bit  = "nv12"
	workingPixelFormat10Bit = "p010le"
)

// Defaults applied by Open for the zero values of the corresponding
// Config fields.
const (
	DefaultDeviceType  = "vaapi"
	DefaultEncoder     = "h264_vaapi"
	DefaultPixelFormat = "nv12"
)

// Config describes one encode pipeline. It is immutable after Open.
type Config struct {
	// Width and Height are the encoded (output) dimensions.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// InputWidth and InputHeight are the dimensions of the submitted
	// frames. When set and different from Width/Height, a hardware
	// scaling stage is inserted between upload and encode; equal or
	// unset values mean no scaling.
	InputWidth  int `yaml:"input_width"`
	InputHeight int `yaml:"input_height"`

	Framerate int `yaml:"framerate"`

	// DeviceType is the hardware device family ("vaapi", "cuda",
	// "qsv"); empty means DefaultDeviceType.
	DeviceType string `yaml:"device_type"`

	// Device optionally points at a concrete device instance, e.g.
	// "/dev/dri/renderD128"; empty selects automatically.
	Device string `yaml:"device"`

	// Encoder is the backend encoder name, e.g. "h264_vaapi" or
	// "hevc_vaapi"; empty means DefaultEncoder.
	Encoder string `yaml:"encoder"`

	// PixelFormat is the software pixel format of the submitted
	// frames; empty means DefaultPixelFormat.
	//
	// The hardware surfaces themselves are allocated in a known-good
	// 4:2:0 biplanar working format (10-bit if PixelFormat is 10-bit,
	// 8-bit otherwise) since some drivers refuse to negotiate a
	// working format for non-4:2:0 inputs. For 4:2:2/4:4:4 sources
	// this means chroma subsampling loss.
	PixelFormat string `yaml:"pixel_format"`

	// Profile is the codec profile constant; 0 lets the encoder guess.
	Profile int `yaml:"profile"`

	MaxBFrames int `yaml:"max_b_frames"`

	// BitRate and QP select the rate-control mode and are mutually
	// exclusive: a non-zero BitRate selects average-bitrate mode and
	// wins over QP; a non-zero QP alone selects fixed-quantizer mode;
	// both zero keeps the backend default quantizer.
	BitRate int64 `yaml:"bitrate"`
	QP      int   `yaml:"qp"`

	// GopSize is the group-of-pictures size: 0 keeps the backend
	// default, -1 requests intra-only.
	GopSize int `yaml:"gop_size"`

	// CompressionLevel is the backend speed/quality trade-off; 0 keeps
	// the backend default.
	CompressionLevel int `yaml:"compression_level"`

	// LowPower selects the alternative low-power encode path where the
	// hardware supports one.
	LowPower bool `yaml:"low_power"`

	// Preset, OutputDelay and ZeroLatency are encoder-specific tuning
	// knobs passed through opaquely. OutputDelay 0 keeps the backend
	// default; -1 requests no delay.
	Preset      string `yaml:"preset"`
	OutputDelay int    `yaml:"output_delay"`
	ZeroLatency bool   `yaml:"zero_latency"`
}

func (cfg Config) String() string {
	return spew.Sdump(cfg)
}

func (cfg Config) withDefaults() Config {
	if cfg.DeviceType == "" {
		cfg.DeviceType = DefaultDeviceType
	}
	if cfg.Encoder == "" {
		cfg.Encoder = DefaultEncoder
	}
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = DefaultPixelFormat
	}
	return cfg
}

func (cfg Config) validate() error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid encoded dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if (cfg.InputWidth != 0) != (cfg.InputHeight != 0) {
		return fmt.Errorf("InputWidth and InputHeight must be set together (got %dx%d)", cfg.InputWidth, cfg.InputHeight)
	}
	if cfg.InputWidth < 0 || cfg.InputHeight < 0 {
		return fmt.Errorf("invalid input dimensions %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	if cfg.Framerate <= 0 {
		return fmt.Errorf("invalid framerate %d", cfg.Framerate)
	}
	if cfg.MaxBFrames < 0 {
		return fmt.Errorf("invalid max B-frames count %d", cfg.MaxBFrames)
	}
	if cfg.BitRate < 0 {
		return fmt.Errorf("invalid bitrate %d", cfg.BitRate)
	}
	if cfg.QP < 0 {
		return fmt.Errorf("invalid QP %d", cfg.QP)
	}
	if cfg.GopSize < -1 {
		return fmt.Errorf("invalid GOP size %d", cfg.GopSize)
	}
	return nil
}

// inputSize is the dimensions of the frames the caller submits.
func (cfg Config) inputSize() (width, height int) {
	if cfg.InputWidth != 0 && cfg.InputHeight != 0 {
		return cfg.InputWidth, cfg.InputHeight
	}
	return cfg.Width, cfg.Height
}

// scalingRequested reports whether the input dimensions differ from
// the encoded dimensions; equal values behave as "no scaling".
func (cfg Config) scalingRequested() bool {
	w, h := cfg.inputSize()
	return w != cfg.Width || h != cfg.Height
}

// workingFormatName picks the working/transfer format the hardware
// surfaces are allocated in.
func workingFormatName(softwareFormat backend.PixelFormat) string {
	if softwareFormat.ComponentDepth() == 10 {
		return workingPixelFormat10Bit
	}
	return workingPixelFormat8Bit
}

func (cfg Config) encoderParams() backend.EncoderParams {
	qp := cfg.QP
	if cfg.BitRate != 0 {
		// average-bitrate mode wins; the quantizer is not applied
		qp = 0
	}
	return backend.EncoderParams{
		Codec:            cfg.Encoder,
		Width:            cfg.Width,
		Height:           cfg.Height,
		Framerate:        cfg.Framerate,
		Profile:          cfg.Profile,
		MaxBFrames:       cfg.MaxBFrames,
		BitRate:          cfg.BitRate,
		QP:               qp,
		GopSize:          cfg.GopSize,
		CompressionLevel: cfg.CompressionLevel,
		LowPower:         cfg.LowPower,
		Preset:           cfg.Preset,
		OutputDelay:      cfg.OutputDelay,
		ZeroLatency:      cfg.ZeroLatency,
	}
}
