// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package markers

import (
	"github.com/pydep/pydep/gps/pep440"
)

// Environment holds concrete values for marker axes. Empty fields are
// unknown; tests against an unknown axis are permissive and evaluate true.
type Environment struct {
	PythonFullVersion            string
	ImplementationName           string
	ImplementationVersion        string
	OSName                       string
	PlatformMachine              string
	PlatformPythonImplementation string
	PlatformRelease              string
	PlatformSystem               string
	PlatformVersion              string
	SysPlatform                  string

	// Extras are the extras active for the requirement being evaluated. A nil
	// slice leaves the extra axis unknown; an empty, non-nil slice means no
	// extra is active.
	Extras []string
}

func (e Environment) value(axis Axis) string {
	switch axis {
	case PythonFullVersion:
		return e.PythonFullVersion
	case PythonVersion:
		v, err := pep440.Parse(e.PythonFullVersion)
		if err != nil {
			return ""
		}
		rel := v.Release()
		if len(rel) < 2 {
			rel = append(rel, 0)
		}
		return pep440.FromRelease(rel[0], rel[1]).String()
	case ImplementationName:
		return e.ImplementationName
	case ImplementationVersion:
		return e.ImplementationVersion
	case OSName:
		return e.OSName
	case PlatformMachine:
		return e.PlatformMachine
	case PlatformPythonImplementation:
		return e.PlatformPythonImplementation
	case PlatformRelease:
		return e.PlatformRelease
	case PlatformSystem:
		return e.PlatformSystem
	case PlatformVersion:
		return e.PlatformVersion
	case SysPlatform:
		return e.SysPlatform
	}
	return ""
}

func (e Environment) known(d domain) bool {
	if d.axis == Extra {
		return e.Extras != nil
	}
	return e.value(d.axis) != ""
}

// Marker returns the marker matching exactly this environment on its known
// axes. It is the environment space of a resolution for one interpreter.
func (e Environment) Marker() Marker {
	m := True()
	if e.PythonFullVersion != "" {
		if v, err := pep440.Parse(e.PythonFullVersion); err == nil {
			m = m.And(Python(pep440.Singleton(v)))
		}
	}
	for _, axis := range []Axis{
		ImplementationName, OSName, PlatformMachine, PlatformPythonImplementation,
		PlatformRelease, PlatformSystem, PlatformVersion, SysPlatform,
	} {
		if v := e.value(axis); v != "" {
			m = m.And(StringEquals(axis, v))
		}
	}
	return m
}

// Evaluate reports whether m holds in env.
func (m Marker) Evaluate(env Environment) bool {
	if m.never {
		return false
	}
	if len(m.dnf) == 0 {
		return true
	}
	for _, c := range m.dnf {
		if c.evaluate(env) {
			return true
		}
	}
	return false
}

func (c conj) evaluate(env Environment) bool {
	for _, d := range c {
		if env.known(d) && !d.evaluate(env) {
			return false
		}
	}
	return true
}

// evaluate tests d against a known axis value.
func (d domain) evaluate(env Environment) bool {
	switch d.kind {
	case kindOpaque:
		held := evalStrings(d.atom.operands(env.value(d.atom.axis)))
		return d.ss.contains(truth) == held
	case kindString:
		if d.axis != Extra {
			return d.ss.contains(env.value(d.axis))
		}
		if len(env.Extras) == 0 {
			return d.ss.contains("")
		}
		// Several extras can be active at once: "extra != x" holds when x is
		// not among them.
		if d.ss.neg {
			for _, e := range env.Extras {
				if !d.ss.contains(normalizeExtra(e)) {
					return false
				}
			}
			return true
		}
		for _, e := range env.Extras {
			if d.ss.contains(normalizeExtra(e)) {
				return true
			}
		}
		return false
	}

	v, err := pep440.Parse(env.value(d.axis))
	if err != nil {
		// An unparseable interpreter version constrains nothing.
		return true
	}
	return d.vs.Contains(v)
}

func (a opaqueAtom) operands(envValue string) (string, string, string) {
	if a.valueFirst {
		return a.value, a.op, envValue
	}
	return envValue, a.op, a.value
}

// Partial evaluates m against the known axes of env and returns the residual
// marker over the axes env leaves unknown.
func (m Marker) Partial(env Environment) Marker {
	if m.never || len(m.dnf) == 0 {
		return m
	}
	var out []conj
	for _, c := range m.dnf {
		nc := make(conj, 0, len(c))
		holds := true
		for _, d := range c {
			if !env.known(d) {
				nc = append(nc, d)
				continue
			}
			if !d.evaluate(env) {
				holds = false
				break
			}
		}
		if holds {
			out = append(out, nc)
		}
	}
	return fromConjs(out)
}

// ExtraPartial resolves the extra axis for the given active extras and
// leaves every other axis symbolic.
func (m Marker) ExtraPartial(extras []string) Marker {
	if extras == nil {
		extras = []string{}
	}
	return m.Partial(Environment{Extras: extras})
}
