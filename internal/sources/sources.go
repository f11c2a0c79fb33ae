// Package sources wires every built-in source type into a registry.
package sources

import (
	"errors"
	"log/slog"

	"perfwatch/internal/source"
	"perfwatch/internal/sources/agent"
	"perfwatch/internal/sources/database"
	"perfwatch/internal/sources/jmx"
	"perfwatch/internal/sources/local"
	"perfwatch/internal/sources/pdu"
	"perfwatch/internal/sources/proxmox"
	"perfwatch/internal/sources/self"
	"perfwatch/internal/sources/wmi"
)

var registrars = []func(*source.Registry) error{
	local.Register,
	self.Register,
	wmi.Register,
	pdu.Register,
	jmx.Register,
	agent.Register,
	database.Register,
	proxmox.Register,
}

// RegisterAll adds every built-in source type to r.
func RegisterAll(r *source.Registry) error {
	var errs []error
	for _, register := range registrars {
		errs = append(errs, register(r))
	}
	return errors.Join(errs...)
}

// NewRegistry returns a registry holding every built-in source type.
func NewRegistry(logger *slog.Logger) *source.Registry {
	r := source.NewRegistry(logger)
	if err := RegisterAll(r); err != nil {
		panic(err)
	}
	return r
}
