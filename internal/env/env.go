// Package env captures details about the Smelt environment: where
// smelt_root lives and the ambient identity (user, host, git) recorded
// into every Invocation. Grounded on the teacher's internal/env package,
// which resolves DISTRIROOT the same way.
package env

import (
	"os"
	"os/user"
)

// SmeltRoot is the root directory Smelt operates from: commands' working
// directories default here, and smelt-out/ is created under it.
var SmeltRoot = findSmeltRoot()

func findSmeltRoot() string {
	if root := os.Getenv("SMELT_ROOT"); root != "" {
		return root
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// CurrentUser returns the invoking user's username, or "" if it cannot be
// determined (e.g. running in a minimal container). Missing optional
// Invocation fields are omitted rather than faulted, per spec.
func CurrentUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

// Hostname returns the local hostname, or "" if unavailable.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
