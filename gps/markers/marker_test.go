// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package markers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pydep/pydep/gps/pep440"
)

var (
	linux   = Environment{PythonFullVersion: "3.11.4", SysPlatform: "linux", OSName: "posix", PlatformMachine: "x86_64"}
	windows = Environment{PythonFullVersion: "3.8.10", SysPlatform: "win32", OSName: "nt", PlatformMachine: "AMD64"}
)

func TestParseAndEvaluate(t *testing.T) {
	table := []struct {
		marker         string
		linux, windows bool
	}{
		{"sys_platform == 'linux'", true, false},
		{"sys_platform != 'linux'", false, true},
		{`os_name == "nt" and platform_machine == 'AMD64'`, false, true},
		{"python_version >= '3.10'", true, false},
		{"python_version < '3.9'", false, true},
		{"python_version == '3.8'", false, true},
		{"python_version != '3.8'", true, false},
		{"python_full_version >= '3.11.4'", true, false},
		{"python_full_version > '3.8.10'", true, false},
		{"'3.9' > python_version", false, true},
		{"python_version == '3.*'", true, true},
		{"(sys_platform == 'linux' or sys_platform == 'darwin') and python_version >= '3.9'", true, false},
		{"'linux' in sys_platform", true, false},
		{"'win' not in sys_platform", true, false},
		{"os.name == 'nt'", false, true},
		{"'a' == 'a'", true, true},
		{"'a' == 'b'", false, false},
		{"", true, true},
	}

	for _, tc := range table {
		m, err := Parse(tc.marker)
		require.NoError(t, err, tc.marker)
		assert.Equal(t, tc.linux, m.Evaluate(linux), "%s on linux", tc.marker)
		assert.Equal(t, tc.windows, m.Evaluate(windows), "%s on windows", tc.marker)
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{
		"sys_platform ==",
		"sys_platform = 'linux'",
		"sys_platform == 'linux",
		"(sys_platform == 'linux'",
		"sys_platform == os_name",
		"sys_platform not 'linux'",
		"sys_platform == 'linux' and",
	} {
		_, err := Parse(in)
		require.Error(t, err, in)
		_, ok := err.(*ParseError)
		assert.True(t, ok, in)
	}
}

func TestUnknownAxisIsPermissive(t *testing.T) {
	m := MustParse("frobnication_level == 'high'")
	assert.True(t, m.Evaluate(linux))
	assert.True(t, m.Not().Evaluate(linux))

	env := Environment{SysPlatform: "linux"}
	assert.True(t, MustParse("python_version < '3'").Evaluate(env), "unknown python version")
}

func TestCanonicalString(t *testing.T) {
	table := map[string]string{
		"sys_platform=='linux'":                                  "sys_platform == 'linux'",
		"python_version>='3.8' and sys_platform=='linux'":        "python_version >= '3.8' and sys_platform == 'linux'",
		"sys_platform=='linux' and python_version>='3.8'":        "python_version >= '3.8' and sys_platform == 'linux'",
		"python_version == '3.10'":                               "python_version == '3.10'",
		"python_version != '3.10'":                               "python_version != '3.10'",
		"python_version > '3.10'":                                "python_version >= '3.11'",
		"python_version <= '3.10'":                               "python_version < '3.11'",
		"python_full_version >= '3.8.1'":                         "python_full_version >= '3.8.1'",
		"python_version >= '3.8' and python_version < '3.10'":    "python_version >= '3.8' and python_version < '3.10'",
		"sys_platform == 'win32' or sys_platform == 'linux'":     "sys_platform == 'linux' or sys_platform == 'win32'",
		"sys_platform != 'win32' and sys_platform != 'darwin'":   "sys_platform != 'darwin' and sys_platform != 'win32'",
		"extra == 'Test_Extra'":                                  "extra == 'test-extra'",
		"python_version < '3.8' or python_version >= '3.8'":      "",
		"sys_platform == 'linux' and sys_platform == 'win32'":    "python_version < '0'",
		"python_version >= '3.9' or python_version >= '3.11'":    "python_version >= '3.9'",
		"(python_version < '3.9' or python_version >= '3.12')":   "python_version < '3.9' or python_version >= '3.12'",
	}
	for in, want := range table {
		m := MustParse(in)
		assert.Equal(t, want, m.String(), in)
		// Rendering is a fixed point.
		again := MustParse(m.String())
		assert.Equal(t, m.String(), again.String(), in)
	}
}

func TestAlgebra(t *testing.T) {
	lin := MustParse("sys_platform == 'linux'")
	win := MustParse("sys_platform == 'win32'")
	py38 := MustParse("python_version < '3.9'")

	assert.True(t, lin.Disjoint(win))
	assert.False(t, lin.Disjoint(py38))
	assert.True(t, lin.Or(lin.Not()).IsTrue())
	assert.True(t, lin.And(lin.Not()).IsFalse())
	assert.True(t, lin.And(py38).Implies(lin))
	assert.False(t, lin.Implies(lin.And(py38)))
	assert.True(t, lin.Not().Equal(MustParse("sys_platform != 'linux'")))

	// De Morgan on a conjunction.
	both := lin.And(py38)
	assert.Equal(t, "python_version >= '3.9' or sys_platform != 'linux'", both.Not().String())

	assert.True(t, True().IsTrue())
	assert.True(t, False().IsFalse())
	assert.True(t, True().Not().IsFalse())
}

func TestMonotonicUnderNarrowing(t *testing.T) {
	m := MustParse("python_version >= '3.9' or sys_platform == 'win32'")
	space := MustParse("sys_platform == 'linux' or sys_platform == 'win32'")
	narrowed := space.And(MustParse("sys_platform == 'linux'"))

	// Narrowing the environment space can only shrink where m holds.
	wide := m.And(space)
	narrow := m.And(narrowed)
	assert.True(t, narrow.Implies(wide))
	assert.Equal(t, "python_version >= '3.9' and sys_platform == 'linux'", narrow.String())
}

func TestPartialEvaluation(t *testing.T) {
	m := MustParse("sys_platform == 'linux' and python_version >= '3.9' or sys_platform == 'darwin'")

	residual := m.Partial(Environment{SysPlatform: "linux"})
	assert.Equal(t, "python_version >= '3.9'", residual.String())

	assert.True(t, m.Partial(Environment{SysPlatform: "darwin"}).IsTrue())
	assert.True(t, m.Partial(Environment{SysPlatform: "win32"}).IsFalse())
	assert.Equal(t, m.String(), m.Partial(Environment{}).String())
}

func TestExtras(t *testing.T) {
	m := MustParse("extra == 'socks' and sys_platform == 'linux' or extra == 'http2'")
	assert.Equal(t, []string{"http2", "socks"}, m.Extras())

	assert.Equal(t, "sys_platform == 'linux'", m.ExtraPartial([]string{"socks"}).String())
	assert.True(t, m.ExtraPartial([]string{"http2"}).IsTrue())
	assert.True(t, m.ExtraPartial(nil).IsFalse())
	assert.Equal(t, "sys_platform == 'linux'", MustParse("extra == 'socks' and sys_platform == 'linux'").WithoutExtras().String())

	// Several active extras.
	ne := MustParse("extra != 'group-app-test'")
	assert.True(t, ne.Evaluate(Environment{Extras: []string{"group-app-dev", "extra-app-cli"}}))
	assert.False(t, ne.Evaluate(Environment{Extras: []string{"group-app-dev", "group-app-test"}}))
	assert.True(t, ne.Evaluate(Environment{Extras: []string{}}))
	assert.True(t, MustParse("extra == 'cli'").Evaluate(Environment{Extras: []string{"dev", "cli"}}))
}

func TestPythonHelpers(t *testing.T) {
	req := pep440.MustParseSpecifiers(">=3.8")
	rp := FromRequiresPython(req)
	assert.Equal(t, "python_full_version >= '3.8'", rp.String())

	m := MustParse("python_version >= '3.9' and sys_platform == 'linux' or sys_platform == 'win32'")
	assert.True(t, m.PythonRange().IsAny())
	assert.True(t, MustParse("python_version >= '3.9'").PythonRange().Equal(MustParse("python_version >= '3.9'").PythonRange()))
	assert.Equal(t, "sys_platform == 'linux' or sys_platform == 'win32'", m.WithoutPython().String())

	simplified := MustParse("python_full_version >= '3.8' and sys_platform == 'linux'").SimplifyPython(req.VersionSet())
	assert.Equal(t, "sys_platform == 'linux'", simplified.String())
	assert.True(t, MustParse("python_version < '3.8'").SimplifyPython(req.VersionSet()).IsFalse())
}

func TestEnvironmentMarker(t *testing.T) {
	m := linux.Marker()
	assert.True(t, m.Evaluate(linux))
	assert.False(t, m.Evaluate(windows))
	assert.True(t, MustParse("sys_platform == 'linux'").And(m).Equal(m))
}
