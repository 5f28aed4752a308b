// Command hwve-encode encodes synthetically generated raw frames with
// a hardware encoder and writes the resulting raw bitstream to a file.
//
// It reproduces the classic smoke test of hardware encode setups: a
// greyscale gradient riding across the picture, NV12 for 8-bit
// formats, P010LE for 10-bit.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/hwve"
	"github.com/xaionaro-go/hwve/backend/libav"
	"github.com/xaionaro-go/observability"
	"gopkg.in/yaml.v3"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [flags] <output-file>\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	configPath := pflag.String("config", "", "path to a YAML file with the pipeline config (flags override it)")
	width := pflag.Int("width", 1280, "encoded width")
	height := pflag.Int("height", 720, "encoded height")
	inputWidth := pflag.Int("input-width", 0, "input width (enables hardware scaling when different from --width)")
	inputHeight := pflag.Int("input-height", 0, "input height (enables hardware scaling when different from --height)")
	framerate := pflag.Int("framerate", 30, "framerate")
	frames := pflag.Int("frames", 300, "number of synthetic frames to encode")
	deviceType := pflag.String("device-type", hwve.DefaultDeviceType, "hardware device family (vaapi, cuda, qsv)")
	device := pflag.String("device", "", "hardware device path, e.g. /dev/dri/renderD128")
	encoder := pflag.String("encoder", hwve.DefaultEncoder, "encoder name, e.g. h264_vaapi or hevc_vaapi")
	pixelFormat := pflag.String("pixel-format", hwve.DefaultPixelFormat, "software pixel format of the generated frames (nv12 or p010le)")
	profile := pflag.Int("profile", 0, "codec profile constant (0 = auto)")
	maxBFrames := pflag.Int("max-b-frames", 0, "max consecutive B-frames")
	bitRate := pflag.Int64("bitrate", 0, "average bitrate in bits/s (enables VBR mode)")
	qp := pflag.Int("qp", 0, "fixed quantizer (CQP mode; ignored when --bitrate is set)")
	gopSize := pflag.Int("gop-size", 0, "GOP size (0 = default, -1 = intra-only)")
	lowPower := pflag.Bool("low-power", false, "use the low-power encode path")
	preset := pflag.String("preset", "", "encoder preset name")
	pflag.Parse()
	if len(pflag.Args()) != 1 {
		pflag.Usage()
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func() { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	cfg := hwve.Config{}
	if *configPath != "" {
		b, err := os.ReadFile(*configPath)
		if err != nil {
			l.Fatalf("unable to read the config file '%s': %v", *configPath, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			l.Fatalf("unable to parse the config file '%s': %v", *configPath, err)
		}
	}

	setIfChanged := func(name string, apply func()) {
		if *configPath == "" || pflag.Lookup(name).Changed {
			apply()
		}
	}
	setIfChanged("width", func() { cfg.Width = *width })
	setIfChanged("height", func() { cfg.Height = *height })
	setIfChanged("input-width", func() { cfg.InputWidth = *inputWidth })
	setIfChanged("input-height", func() { cfg.InputHeight = *inputHeight })
	setIfChanged("framerate", func() { cfg.Framerate = *framerate })
	setIfChanged("device-type", func() { cfg.DeviceType = *deviceType })
	setIfChanged("device", func() { cfg.Device = *device })
	setIfChanged("encoder", func() { cfg.Encoder = *encoder })
	setIfChanged("pixel-format", func() { cfg.PixelFormat = *pixelFormat })
	setIfChanged("profile", func() { cfg.Profile = *profile })
	setIfChanged("max-b-frames", func() { cfg.MaxBFrames = *maxBFrames })
	setIfChanged("bitrate", func() { cfg.BitRate = *bitRate })
	setIfChanged("qp", func() { cfg.QP = *qp })
	setIfChanged("gop-size", func() { cfg.GopSize = *gopSize })
	setIfChanged("low-power", func() { cfg.LowPower = *lowPower })
	setIfChanged("preset", func() { cfg.Preset = *preset })

	outputPath := pflag.Arg(0)
	outputFile, err := os.Create(outputPath)
	if err != nil {
		l.Fatalf("unable to create the output file '%s': %v", outputPath, err)
	}
	defer outputFile.Close()

	gen, err := newFrameGenerator(cfg)
	if err != nil {
		l.Fatal(err)
	}

	l.Debugf("opening the pipeline...")
	p, err := hwve.Open(ctx, libav.New(ctx), cfg)
	if err != nil {
		l.Fatal(err)
	}
	defer p.Close(ctx)

	var packets, bytes int
	drain := func() {
		for {
			pkt, err := p.DrainPacket(ctx)
			if err != nil {
				l.Fatal(err)
			}
			if pkt == nil {
				return
			}
			packets++
			bytes += len(pkt.Data)
			if _, err := outputFile.Write(pkt.Data); err != nil {
				l.Fatalf("unable to write to '%s': %v", outputPath, err)
			}
		}
	}

	for i := 0; i < *frames; i++ {
		if err := p.SubmitFrame(ctx, gen.frame(i)); err != nil {
			l.Fatal(err)
		}
		drain()
	}

	l.Debugf("flushing...")
	if err := p.SubmitFrame(ctx, nil); err != nil {
		l.Fatal(err)
	}
	for !p.Drained() {
		drain()
	}

	fmt.Printf("encoded %d frames into %d packets (%d bytes) -> %s\n", *frames, packets, bytes, outputPath)
}
