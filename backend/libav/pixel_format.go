package libav

import (
	"strconv"
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/hwve/backend"
)

var _ backend.PixelFormat = pixelFormat{}

type pixelFormat struct {
	name string
	raw  astiav.PixelFormat
}

func (pf pixelFormat) String() string {
	return pf.name
}

// biplanarDepths covers the nv/p biplanar families, whose digits name
// the chroma layout or the MSB-packed sample size rather than following
// the yuv420p10-style convention.
var biplanarDepths = map[string]int{
	"nv12": 8, "nv16": 8, "nv21": 8, "nv24": 8, "nv42": 8,
	"nv20": 10,
	"p010": 10, "p210": 10, "p410": 10,
	"p012": 12, "p212": 12, "p412": 12,
	"p016": 16, "p216": 16, "p416": 16,
}

// ComponentDepth derives the maximum component bit depth from the
// format name, after stripping an "le"/"be" endianness suffix: the
// biplanar families come from an explicit table, and otherwise a
// trailing run of digits in the 9..16 range is a depth marker only
// when it follows the planar "p" ("yuv420p12" is 12-bit) or the
// grayscale prefix ("gray9" is 9-bit); in names like "nv12" or
// "rgb565" the digits describe the layout, so those stay 8-bit.
func (pf pixelFormat) ComponentDepth() int {
	name := pf.name
	if s, ok := strings.CutSuffix(name, "le"); ok {
		name = s
	} else if s, ok := strings.CutSuffix(name, "be"); ok {
		name = s
	}

	if depth, ok := biplanarDepths[name]; ok {
		return depth
	}

	digits := 0
	for digits < len(name) {
		c := name[len(name)-1-digits]
		if c < '0' || c > '9' {
			break
		}
		digits++
	}
	if digits == 0 || digits == len(name) {
		return 8
	}

	prefix := name[:len(name)-digits]
	if prefix[len(prefix)-1] != 'p' && prefix != "gray" {
		return 8
	}

	depth, err := strconv.Atoi(name[len(name)-digits:])
	if err != nil || depth < 9 || depth > 16 {
		return 8
	}
	return depth
}
