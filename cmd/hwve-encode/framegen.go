package main

import (
	"encoding/binary"
	"fmt"

	"github.com/xaionaro-go/hwve"
)

// frameGenerator produces a greyscale gradient riding across the
// picture with neutral chroma.
type frameGenerator struct {
	width       int
	height      int
	tenBit      bool
	luma        []byte
	chroma      []byte
	lumaStride  int
	chromStride int
}

func newFrameGenerator(cfg hwve.Config) (*frameGenerator, error) {
	width, height := cfg.Width, cfg.Height
	if cfg.InputWidth != 0 && cfg.InputHeight != 0 {
		width, height = cfg.InputWidth, cfg.InputHeight
	}

	g := &frameGenerator{
		width:  width,
		height: height,
	}
	switch cfg.PixelFormat {
	case "", "nv12":
		g.lumaStride = width
	case "p010le":
		g.tenBit = true
		g.lumaStride = width * 2
	default:
		return nil, fmt.Errorf("no synthetic frame generator for pixel format '%s' (use nv12 or p010le)", cfg.PixelFormat)
	}
	g.chromStride = g.lumaStride
	g.luma = make([]byte, g.lumaStride*height)
	g.chroma = make([]byte, g.chromStride*height/2)

	// neutral chroma
	if g.tenBit {
		for i := 0; i < len(g.chroma); i += 2 {
			binary.LittleEndian.PutUint16(g.chroma[i:], 512<<6)
		}
	} else {
		for i := range g.chroma {
			g.chroma[i] = 128
		}
	}

	return g, nil
}

func (g *frameGenerator) frame(index int) *hwve.Frame {
	if g.tenBit {
		for y := 0; y < g.height; y++ {
			row := g.luma[y*g.lumaStride:]
			for x := 0; x < g.width; x++ {
				v := uint16((x+y+index*3)%1024) << 6
				binary.LittleEndian.PutUint16(row[x*2:], v)
			}
		}
	} else {
		for y := 0; y < g.height; y++ {
			row := g.luma[y*g.lumaStride:]
			for x := 0; x < g.width; x++ {
				row[x] = byte((x + y + index*3) % 256)
			}
		}
	}

	f := &hwve.Frame{}
	f.Data[0] = g.luma
	f.Linesize[0] = g.lumaStride
	f.Data[1] = g.chroma
	f.Linesize[1] = g.chromStride
	return f
}
