// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package feedback

import (
	"fmt"
	"log"
	"sort"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/verify"
)

// DepTypeDirect represents a direct dependency
const DepTypeDirect = "direct dep"

// DepTypeTransitive represents a transitive dependency,
// or a dependency of a dependency
const DepTypeTransitive = "transitive dep"

// DepTypeMember represents a workspace member
const DepTypeMember = "workspace member"

// Feedback actions
const (
	ActionLock   = "lock"
	ActionUpdate = "update"
	ActionRemove = "remove"
)

// PackageFeedback holds feedback data for one package of a lock.
type PackageFeedback struct {
	Name, Version, PreviousVersion, Source, DependencyType, Action string
}

// LogFeedback logs the feedback
func (pf PackageFeedback) LogFeedback(logger *log.Logger) {
	switch pf.Action {
	case ActionUpdate:
		logger.Printf("  %v", GetUpdatingFeedback(pf.PreviousVersion, pf.Version, pf.DependencyType, pf.Name))
	case ActionRemove:
		logger.Printf("  %v", GetRemovingFeedback(pf.PreviousVersion, pf.Name))
	default:
		logger.Printf("  %v", GetLockingFeedback(pf.Version, pf.Source, pf.DependencyType, pf.Name))
	}
}

// GetLockingFeedback returns package locking feedback string.
// Example:
// Locking in 2.31.0 (pypi) for direct dep requests
// Locking in 0.4.6 (pypi) for transitive dep colorama
func GetLockingFeedback(version, source, depType, name string) string {
	if source == "" {
		return fmt.Sprintf("Locking in %s for %s %s", version, depType, name)
	}
	return fmt.Sprintf("Locking in %s (%s) for %s %s", version, source, depType, name)
}

// GetUpdatingFeedback returns package updating feedback string.
// Example:
// Updating direct dep requests 2.30.0 -> 2.31.0
func GetUpdatingFeedback(from, to, depType, name string) string {
	return fmt.Sprintf("Updating %s %s %s -> %s", depType, name, from, to)
}

// GetRemovingFeedback returns package removal feedback string.
// Example:
// Removing urllib3 1.26.18
func GetRemovingFeedback(version, name string) string {
	return fmt.Sprintf("Removing %s %s", name, version)
}

// DeltaFeedback returns feedback for every added, changed or removed
// package in d, sorted by name. depType classifies each package.
func DeltaFeedback(d verify.ResolutionDelta, depType func(gps.PackageName) string) []PackageFeedback {
	names := make([]string, 0, len(d.PackageDeltas))
	for n := range d.PackageDeltas {
		names = append(names, string(n))
	}
	sort.Strings(names)

	var out []PackageFeedback
	for _, n := range names {
		pd := d.PackageDeltas[gps.PackageName(n)]
		src := pd.IndexAfter
		if src == "" {
			src = pd.SourceAfter
		}
		pf := PackageFeedback{
			Name:            n,
			Version:         pd.VersionAfter,
			PreviousVersion: pd.VersionBefore,
			Source:          src,
			DependencyType:  depType(gps.PackageName(n)),
		}
		switch {
		case pd.PackageAdded:
			pf.Action = ActionLock
		case pd.PackageRemoved:
			pf.Action = ActionRemove
		case pd.Changed(verify.VersionChanged):
			pf.Action = ActionUpdate
		default:
			continue
		}
		out = append(out, pf)
	}
	return out
}
