// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"fmt"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	for in, want := range map[string]PackageName{
		"Django":            "django",
		"zope.interface":    "zope-interface",
		"typing_extensions": "typing-extensions",
		"A__B--C..d":        "a-b-c-d",
	} {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"-bad", ""} {
		if _, err := ParseName(bad); err == nil {
			t.Errorf("expected an error parsing name %q", bad)
		}
	}
}

func TestParseRequirement(t *testing.T) {
	r, err := ParseRequirement(`Requests[Socks, security] >=2.8.1,<3 ; python_version >= "3.8"`)
	if err != nil {
		t.Fatal(err)
	}
	if r.Name != "requests" {
		t.Errorf("unexpected name %q", r.Name)
	}
	if got := fmt.Sprint(r.Extras); got != "[security socks]" {
		t.Errorf("unexpected extras %s", got)
	}
	if got := r.Specifiers.String(); got != ">=2.8.1,<3" {
		t.Errorf("unexpected specifiers %q", got)
	}
	if got := r.Marker.String(); got != "python_version >= '3.8'" {
		t.Errorf("unexpected marker %q", got)
	}
	if r.IsDirect() {
		t.Error("a registry requirement is not direct")
	}
	if got, want := r.String(), "requests[security,socks]>=2.8.1,<3; python_version >= '3.8'"; got != want {
		t.Errorf("unexpected rendering:\n\t(GOT): %s\n\t(WNT): %s", got, want)
	}

	r, err = ParseRequirement("name (==1.0)")
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Specifiers.String(); got != "==1.0" {
		t.Errorf("unexpected specifiers %q", got)
	}

	r, err = ParseRequirement("bare")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Specifiers) != 0 || !r.VersionSet().IsAny() || !r.Marker.IsTrue() {
		t.Errorf("a bare name should accept anything everywhere, got %s", r)
	}
}

func TestParseDirectRequirements(t *testing.T) {
	r, err := ParseRequirement("flask @ git+https://github.com/pallets/flask@3.0.0 ; sys_platform == 'linux'")
	if err != nil {
		t.Fatal(err)
	}
	gs, ok := r.Source.(GitSource)
	if !ok {
		t.Fatalf("expected a git source, got %T", r.Source)
	}
	if gs.Repository != "https://github.com/pallets/flask" || gs.Ref != "3.0.0" {
		t.Errorf("unexpected git source %+v", gs)
	}
	if got := r.Marker.String(); got != "sys_platform == 'linux'" {
		t.Errorf("unexpected marker %q", got)
	}
	if !r.VersionSet().IsAny() {
		t.Error("a direct requirement should not narrow the version")
	}
	if got, want := r.String(), "flask @ git+https://github.com/pallets/flask@3.0.0 ; sys_platform == 'linux'"; got != want {
		t.Errorf("unexpected rendering:\n\t(GOT): %s\n\t(WNT): %s", got, want)
	}

	r, err = ParseRequirement("local @ file:///srv/wheels/local-1.0-py3-none-any.whl")
	if err != nil {
		t.Fatal(err)
	}
	ps, ok := r.Source.(PathSource)
	if !ok {
		t.Fatalf("expected a path source, got %T", r.Source)
	}
	if ps.Directory {
		t.Error("a wheel path is not a directory")
	}

	r, err = ParseRequirement("pkg @ https://example.com/pkg-1.0.tar.gz#subdirectory=src")
	if err != nil {
		t.Fatal(err)
	}
	if want := (URLSource{URL: "https://example.com/pkg-1.0.tar.gz", Subdirectory: "src"}); r.Source != want {
		t.Errorf("unexpected source %#v", r.Source)
	}
}

func TestParseRequirementErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"foo[bar",
		"foo >=",
		"foo ; sys_platform ==",
		"foo @ ftp://example.com/x.whl",
		"foo (>=1.0",
	} {
		if _, err := ParseRequirement(in); err == nil {
			t.Errorf("expected an error parsing %q", in)
		}
	}
}

func TestSourcesEq(t *testing.T) {
	if !SourcesEq(nil, RegistrySource{}) {
		t.Error("nil should equal the default registry")
	}
	if SourcesEq(RegistrySource{URL: "https://a"}, RegistrySource{URL: "https://b"}) {
		t.Error("registries at different URLs should differ")
	}
	if !SourcesEq(GitSource{Repository: "r", Ref: "main"}, GitSource{Repository: "r", Ref: "main", Commit: "abc"}) {
		t.Error("a resolved commit should not change git source identity")
	}
	if !IsRegistry(nil) || IsRegistry(PathSource{Path: "."}) {
		t.Error("IsRegistry misclassified a source")
	}
}
