// Package buildinfo carries build-time metadata, kept apart from user configuration.
package buildinfo

import (
	"fmt"
	"runtime"
)

// UnknownValue is reported for metadata the build did not inject.
const UnknownValue = "unknown"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
}

// Context contains build-time metadata that is not user-configurable. The
// values are injected with -ldflags at build time.
type Context struct {
	Version   string
	BuildDate string
}

// NewContext creates a build context.
func NewContext(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion implements BuildInfo.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate implements BuildInfo.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// UserAgent is sent on REST backend requests.
func (c *Context) UserAgent() string {
	return fmt.Sprintf("notifier/%s (%s/%s)", c.GetVersion(), runtime.GOOS, runtime.GOARCH)
}

// String is the one-line version banner.
func (c *Context) String() string {
	return fmt.Sprintf("notifier %s (built %s, %s)", c.GetVersion(), c.GetBuildDate(), runtime.Version())
}
