package hwve

import (
	"github.com/xaionaro-go/hwve/backend"
)

// NumPlanes is the fixed number of plane slots in a Frame; unused
// planes stay nil/zero.
const NumPlanes = backend.NumDataPointers

// Frame is one caller-supplied raw video frame.
//
// Data holds one slice per plane, Linesize the matching row strides in
// bytes (including any padding). Each plane slice must hold a whole
// number of rows, the trailing row's padding included; a partial final
// row is a SubmitFrame error. The caller keeps ownership of the
// memory: the pipeline only reads it during SubmitFrame and never
// retains a reference past that call.
type Frame struct {
	Data     [NumPlanes][]byte
	Linesize [NumPlanes]int
}
