//go:build !windows

package wmi

import (
	"log/slog"

	perrors "perfwatch/internal/errors"
	"perfwatch/internal/source"
)

// New reports that WMI is only available on Windows.
func New(spec source.Spec, _ *slog.Logger) (source.Client, error) {
	return nil, perrors.UnsupportedError(TypeName, "source "+spec.Name+": wmi is only available on windows")
}
