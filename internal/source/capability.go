package source

import (
	"fmt"

	perrors "perfwatch/internal/errors"
)

// CheckCapabilities verifies that the declared capability tags match the
// interfaces the client implements, and that it can deliver values at all.
func CheckCapabilities(c Client) error {
	caps := c.Capabilities()
	if !caps.Has(CapPollable) && !caps.Has(CapPushable) {
		return perrors.ConfigError(fmt.Sprintf("source %s is neither pollable nor pushable", c.Name()), "type")
	}

	checks := []struct {
		tag  Capability
		ok   bool
		name string
	}{
		{CapConnected, implements[Connector](c), "Connector"},
		{CapPollable, implements[Poller](c), "Poller"},
		{CapPushable, implements[Pusher](c), "Pusher"},
	}
	for _, chk := range checks {
		if caps.Has(chk.tag) && !chk.ok {
			return perrors.InternalError(
				fmt.Sprintf("source %s declares %s but does not implement %s", c.Name(), chk.tag, chk.name), nil)
		}
	}
	return nil
}

func implements[T any](c Client) bool {
	_, ok := c.(T)
	return ok
}
