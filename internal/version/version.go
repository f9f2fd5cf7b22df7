/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds build information.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/shopfloor/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// Commit is the VCS revision, filled from build info when not set via ldflags.
var Commit = ""

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information of the running binary.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		GoVersion: runtime.Version(),
	}
	if info.Commit != "" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.Commit = shortRevision(s.Value)
			}
		}
	}
	return info
}

func (i Info) String() string {
	if i.Commit == "" {
		return fmt.Sprintf("shopfloor %s (%s)", i.Version, i.GoVersion)
	}
	return fmt.Sprintf("shopfloor %s (%s, %s)", i.Version, i.Commit, i.GoVersion)
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
