package assetcache

import (
	"errors"
	"fmt"
)

var (
	// ErrInstallFailed is returned when a manifest entry could not be fetched.
	ErrInstallFailed = errors.New("assetcache: install failed")
	// ErrNoWaitingWorker is returned when SKIP_WAITING arrives with nothing waiting.
	ErrNoWaitingWorker = errors.New("assetcache: no waiting worker")
	// ErrForeignHost is returned for absolute-form requests naming another host.
	ErrForeignHost = errors.New("assetcache: request is not for the origin")
)

// NetworkFetchError is a request that could not reach the network and had
// no offline substitute.
type NetworkFetchError struct {
	URL string
	Err error
}

func (e *NetworkFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkFetchError) Unwrap() error { return e.Err }
