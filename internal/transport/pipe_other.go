//go:build !windows

package transport

import (
	"context"
	"net"

	perrors "perfwatch/internal/errors"
)

func dialPipe(_ context.Context, path string) (net.Conn, error) {
	return nil, perrors.UnsupportedError("transport", "named pipes are only available on windows: "+path)
}
