package hwve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWorkingFormatFallback(t *testing.T) {
	tests := []struct {
		format   stubPixelFormat
		expected string
	}{
		{stubPixelFormat{name: "nv12", depth: 8}, workingPixelFormat8Bit},
		{stubPixelFormat{name: "yuv420p", depth: 8}, workingPixelFormat8Bit},
		{stubPixelFormat{name: "p010le", depth: 10}, workingPixelFormat10Bit},
		{stubPixelFormat{name: "yuv420p10le", depth: 10}, workingPixelFormat10Bit},
		{stubPixelFormat{name: "yuv420p12le", depth: 12}, workingPixelFormat8Bit},
		{stubPixelFormat{name: "yuv444p16le", depth: 16}, workingPixelFormat8Bit},
	}

	for _, tt := range tests {
		t.Run(tt.format.name, func(t *testing.T) {
			require.Equal(t, tt.expected, workingFormatName(tt.format))
		})
	}
}

func TestRateControlExclusivity(t *testing.T) {
	t.Run("bitrate wins over qp", func(t *testing.T) {
		cfg := testConfig()
		cfg.BitRate = 2_000_000
		cfg.QP = 25
		params := cfg.encoderParams()
		require.Equal(t, int64(2_000_000), params.BitRate)
		require.Zero(t, params.QP)
	})

	t.Run("qp alone is kept", func(t *testing.T) {
		cfg := testConfig()
		cfg.QP = 25
		params := cfg.encoderParams()
		require.Zero(t, params.BitRate)
		require.Equal(t, 25, params.QP)
	})

	t.Run("both zero keeps the backend default", func(t *testing.T) {
		params := testConfig().encoderParams()
		require.Zero(t, params.BitRate)
		require.Zero(t, params.QP)
	})
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Width: 1280, Height: 720, Framerate: 30}.withDefaults()
	require.Equal(t, DefaultDeviceType, cfg.DeviceType)
	require.Equal(t, DefaultEncoder, cfg.Encoder)
	require.Equal(t, DefaultPixelFormat, cfg.PixelFormat)

	cfg = Config{
		Width: 1280, Height: 720, Framerate: 30,
		DeviceType: "cuda", Encoder: "h264_nvenc", PixelFormat: "p010le",
	}.withDefaults()
	require.Equal(t, "cuda", cfg.DeviceType)
	require.Equal(t, "h264_nvenc", cfg.Encoder)
	require.Equal(t, "p010le", cfg.PixelFormat)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		invalid bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero width", func(cfg *Config) { cfg.Width = 0 }, true},
		{"negative height", func(cfg *Config) { cfg.Height = -1 }, true},
		{"zero framerate", func(cfg *Config) { cfg.Framerate = 0 }, true},
		{"input width without height", func(cfg *Config) { cfg.InputWidth = 1920 }, true},
		{"input dimensions", func(cfg *Config) { cfg.InputWidth = 1920; cfg.InputHeight = 1080 }, false},
		{"negative max b-frames", func(cfg *Config) { cfg.MaxBFrames = -1 }, true},
		{"negative bitrate", func(cfg *Config) { cfg.BitRate = -1 }, true},
		{"negative qp", func(cfg *Config) { cfg.QP = -1 }, true},
		{"intra-only gop", func(cfg *Config) { cfg.GopSize = -1 }, false},
		{"invalid gop", func(cfg *Config) { cfg.GopSize = -2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.invalid {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfigYAML(t *testing.T) {
	doc := `
width: 1280
height: 720
input_width: 1920
input_height: 1080
framerate: 30
device_type: cuda
device: /dev/dri/renderD128
encoder: hevc_nvenc
pixel_format: p010le
profile: 2
max_b_frames: 2
bitrate: 2000000
qp: 25
gop_size: -1
compression_level: 7
low_power: true
preset: p4
output_delay: -1
zero_latency: true
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))
	require.Equal(t, Config{
		Width:            1280,
		Height:           720,
		InputWidth:       1920,
		InputHeight:      1080,
		Framerate:        30,
		DeviceType:       "cuda",
		Device:           "/dev/dri/renderD128",
		Encoder:          "hevc_nvenc",
		PixelFormat:      "p010le",
		Profile:          2,
		MaxBFrames:       2,
		BitRate:          2_000_000,
		QP:               25,
		GopSize:          -1,
		CompressionLevel: 7,
		LowPower:         true,
		Preset:           "p4",
		OutputDelay:      -1,
		ZeroLatency:      true,
	}, cfg)
}

func TestScalingRequested(t *testing.T) {
	cfg := testConfig()
	require.False(t, cfg.scalingRequested())

	cfg.InputWidth = cfg.Width
	cfg.InputHeight = cfg.Height
	require.False(t, cfg.scalingRequested())

	cfg.InputWidth = 1920
	cfg.InputHeight = 1080
	require.True(t, cfg.scalingRequested())

	w, h := cfg.inputSize()
	require.Equal(t, 1920, w)
	require.Equal(t, 1080, h)
}

func TestEncoderParamsPassthrough(t *testing.T) {
	ctx := context.Background()
	b := &stubBackend{}
	cfg := testConfig()
	cfg.Encoder = "hevc_vaapi"
	cfg.Profile = 2
	cfg.GopSize = -1
	cfg.CompressionLevel = 7
	cfg.LowPower = true
	cfg.Preset = "p4"
	cfg.OutputDelay = -1
	cfg.ZeroLatency = true

	p, err := Open(ctx, b, cfg)
	require.NoError(t, err)
	defer p.Close(ctx)

	params := b.lastEncoderParams
	require.Equal(t, "hevc_vaapi", params.Codec)
	require.Equal(t, 2, params.Profile)
	require.Equal(t, -1, params.GopSize)
	require.Equal(t, 7, params.CompressionLevel)
	require.True(t, params.LowPower)
	require.Equal(t, "p4", params.Preset)
	require.Equal(t, -1, params.OutputDelay)
	require.True(t, params.ZeroLatency)

	require.Equal(t, 20, b.lastPoolParams.Size)
	require.Equal(t, "nv12", b.lastPoolParams.SoftwareFormat.String())
	require.Equal(t, "nv12", b.lastPoolParams.TransferFormat.String())
}
