//go:build !linux

package rt

import "fmt"

// ElevateCurrentThread is not supported on this platform.
func ElevateCurrentThread(priority int) error {
	return fmt.Errorf("realtime scheduling is not supported on this platform")
}
