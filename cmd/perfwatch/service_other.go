//go:build !windows

package main

import (
	"fmt"
)

// runService is never reached outside Windows.
func runService(configFile string, isDebug bool) error {
	return fmt.Errorf("Windows service mode is not supported on this platform")
}

func checkServiceMode() (bool, error) {
	return false, nil
}
