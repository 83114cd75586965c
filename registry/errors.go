package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCatalogNotFound is returned when the compiler is given no catalog.
var ErrCatalogNotFound = errors.New("registry: catalog not found")

// ConfigError reports a compile configuration problem. The active inclusion
// policy is attached so an empty result can be diagnosed.
type ConfigError struct {
	Key       string
	Reason    string
	WhiteList []string
	BlackList []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("registry: %s: %s (white_list=[%s] black_list=[%s])",
		e.Key, e.Reason, strings.Join(e.WhiteList, ","), strings.Join(e.BlackList, ","))
}

// DiscoveryError names a handler method the compiler cannot describe.
type DiscoveryError struct {
	Handler string
	Reason  string
	Err     error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry: handler %s: %s: %v", e.Handler, e.Reason, e.Err)
	}
	return fmt.Sprintf("registry: handler %s: %s", e.Handler, e.Reason)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ArtifactError is a filesystem failure while persisting artifacts.
type ArtifactError struct {
	Path string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("registry: write %s: %v", e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}
