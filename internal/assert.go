package internal

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// Assert panics (through the logger, so the failure reaches the
// configured sinks first) when the invariant does not hold. extraArgs
// are formatted into the panic message.
func Assert(
	ctx context.Context,
	mustBeTrue bool,
	extraArgs ...any,
) {
	if mustBeTrue {
		return
	}

	msg := "assertion failed"
	if len(extraArgs) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, fmt.Sprint(extraArgs...))
	}
	logger.Panic(ctx, msg)
}
