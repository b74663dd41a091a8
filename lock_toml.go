// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/markers"
	"github.com/pydep/pydep/gps/pep440"
)

// supportedLockSchema is the range of lock schemas this build reads, as
// "version.revision.0".
var supportedLockSchema = mustConstraint("^1")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

type rawLock struct {
	Version           int                 `toml:"version"`
	Revision          int                 `toml:"revision"`
	RequiresPython    string              `toml:"requires-python"`
	ResolutionMarkers []string            `toml:"resolution-markers"`
	Conflicts         [][]rawConflictItem `toml:"conflicts"`
	Options           rawOptions          `toml:"options"`
	Manifest          rawManifest         `toml:"manifest"`
	Packages          []rawPackage        `toml:"package"`
}

type rawConflictItem struct {
	Package string `toml:"package"`
	Extra   string `toml:"extra"`
	Group   string `toml:"group"`
}

type rawOptions struct {
	ResolutionMode string   `toml:"resolution-mode"`
	PrereleaseMode string   `toml:"prerelease-mode"`
	ForkStrategy   string   `toml:"fork-strategy"`
	IndexStrategy  string   `toml:"index-strategy"`
	ExcludeNewer   string   `toml:"exclude-newer"`
	Environments   []string `toml:"environments"`
}

type rawManifest struct {
	Members          []string            `toml:"members"`
	Requirements     []string            `toml:"requirements"`
	Constraints      []string            `toml:"constraints"`
	Overrides        []string            `toml:"overrides"`
	DependencyGroups map[string][]string `toml:"dependency-groups"`
}

type rawPackage struct {
	Name                 string                     `toml:"name"`
	Version              string                     `toml:"version"`
	Source               rawSource                  `toml:"source"`
	Index                string                     `toml:"index"`
	ResolutionMarkers    []string                   `toml:"resolution-markers"`
	RequiresPython       string                     `toml:"requires-python"`
	Yanked               bool                       `toml:"yanked"`
	Dependencies         []rawDependency            `toml:"dependencies"`
	Sdist                *rawArtifact               `toml:"sdist"`
	Wheels               []rawArtifact              `toml:"wheels"`
	OptionalDependencies map[string][]rawDependency `toml:"optional-dependencies"`
	DevDependencies      map[string][]rawDependency `toml:"dev-dependencies"`
}

type rawSource struct {
	Registry     *string `toml:"registry"`
	URL          *string `toml:"url"`
	Path         *string `toml:"path"`
	Directory    *string `toml:"directory"`
	Editable     *string `toml:"editable"`
	Virtual      *string `toml:"virtual"`
	Git          *string `toml:"git"`
	Rev          string  `toml:"rev"`
	Commit       string  `toml:"commit"`
	Subdirectory string  `toml:"subdirectory"`
}

type rawDependency struct {
	Name    string     `toml:"name"`
	Version string     `toml:"version"`
	Source  *rawSource `toml:"source"`
	Extra   []string   `toml:"extra"`
	Marker  string     `toml:"marker"`
}

type rawArtifact struct {
	URL        string `toml:"url"`
	Filename   string `toml:"filename"`
	Hash       string `toml:"hash"`
	Size       int64  `toml:"size"`
	UploadTime string `toml:"upload-time"`
}

func decodeLock(data []byte) (*rawLock, error) {
	raw := &rawLock{}
	if err := toml.Unmarshal(data, raw); err != nil {
		return nil, errors.Wrap(err, "unable to parse the lock as TOML")
	}

	v, err := semver.NewVersion(fmt.Sprintf("%d.%d.0", raw.Version, raw.Revision))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid lock version %d", raw.Version)
	}
	if !supportedLockSchema.Check(v) {
		return nil, errors.Errorf("unsupported lock version %d (this build reads version %d)", raw.Version, lockVersion)
	}
	return raw, nil
}

func (raw *rawLock) toLock() (*Lock, error) {
	l := &Lock{
		Version:  raw.Version,
		Revision: raw.Revision,
	}
	var err error
	if l.RequiresPython, err = pep440.ParseSpecifiers(raw.RequiresPython); err != nil {
		return nil, errors.Wrap(err, "invalid requires-python")
	}
	if l.ResolutionMarkers, err = parseMarkers(raw.ResolutionMarkers); err != nil {
		return nil, errors.Wrap(err, "invalid resolution-markers")
	}
	for _, rc := range raw.Conflicts {
		var set gps.ConflictSet
		for _, ri := range rc {
			set = append(set, gps.ConflictItem{
				Package: gps.NormalizeName(ri.Package),
				Extra:   gps.NormalizeExtra(ri.Extra),
				Group:   gps.NormalizeExtra(ri.Group),
			})
		}
		l.Conflicts = append(l.Conflicts, set)
	}
	if l.Options, err = raw.Options.toOptions(); err != nil {
		return nil, err
	}
	if l.Manifest, err = raw.Manifest.toManifest(); err != nil {
		return nil, err
	}

	members := make(map[gps.PackageName]bool, len(l.Manifest.Members))
	for _, m := range l.Manifest.Members {
		members[m] = true
	}
	for _, rp := range raw.Packages {
		p, err := rp.toPackage()
		if err != nil {
			return nil, errors.Wrapf(err, "invalid package %s", rp.Name)
		}
		_, isPath := p.Source.(gps.PathSource)
		p.Member = members[p.Name] && isPath
		l.Packages = append(l.Packages, p)
	}
	sortLockPackages(l.Packages)
	return l, nil
}

func parseMarkers(ss []string) ([]markers.Marker, error) {
	var out []markers.Marker
	for _, s := range ss {
		m, err := markers.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (ro rawOptions) toOptions() (LockOptions, error) {
	var o LockOptions
	var err error
	if o.Resolution, err = gps.ParseResolutionStrategy(ro.ResolutionMode); err != nil {
		return o, err
	}
	if o.Prerelease, err = gps.ParsePrereleaseMode(ro.PrereleaseMode); err != nil {
		return o, err
	}
	if o.ForkStrategy, err = gps.ParseForkStrategy(ro.ForkStrategy); err != nil {
		return o, err
	}
	if o.IndexStrategy, err = gps.ParseIndexStrategy(ro.IndexStrategy); err != nil {
		return o, err
	}
	if ro.ExcludeNewer != "" {
		if o.ExcludeNewer, err = time.Parse(time.RFC3339, ro.ExcludeNewer); err != nil {
			return o, errors.Wrap(err, "invalid exclude-newer")
		}
	}
	if o.Environments, err = parseMarkers(ro.Environments); err != nil {
		return o, errors.Wrap(err, "invalid environments")
	}
	return o, nil
}

func (rm rawManifest) toManifest() (LockManifest, error) {
	var m LockManifest
	for _, s := range rm.Members {
		m.Members = append(m.Members, gps.NormalizeName(s))
	}
	var err error
	if m.Requirements, err = gps.ParseRequirements(rm.Requirements); err != nil {
		return m, errors.Wrap(err, "invalid manifest requirements")
	}
	if m.Constraints, err = gps.ParseRequirements(rm.Constraints); err != nil {
		return m, errors.Wrap(err, "invalid manifest constraints")
	}
	if m.Overrides, err = gps.ParseRequirements(rm.Overrides); err != nil {
		return m, errors.Wrap(err, "invalid manifest overrides")
	}
	for g, ss := range rm.DependencyGroups {
		rs, err := gps.ParseRequirements(ss)
		if err != nil {
			return m, errors.Wrapf(err, "invalid manifest dependency group %s", g)
		}
		if m.DependencyGroups == nil {
			m.DependencyGroups = make(map[gps.ExtraName][]gps.Requirement)
		}
		m.DependencyGroups[gps.NormalizeExtra(g)] = rs
	}
	return m, nil
}

func (rp rawPackage) toPackage() (gps.ResolvedPackage, error) {
	p := gps.ResolvedPackage{
		Name:   gps.NormalizeName(rp.Name),
		Index:  rp.Index,
		Yanked: rp.Yanked,
	}
	var err error
	if p.Version, err = pep440.Parse(rp.Version); err != nil {
		return p, err
	}
	if p.Source, err = rp.Source.toSource(); err != nil {
		return p, err
	}
	if p.RequiresPython, err = pep440.ParseSpecifiers(rp.RequiresPython); err != nil {
		return p, err
	}
	if p.ForkMarkers, err = parseMarkers(rp.ResolutionMarkers); err != nil {
		return p, err
	}
	if p.Dependencies, err = toDependencies(rp.Dependencies); err != nil {
		return p, err
	}
	if p.OptionalDependencies, err = toDependencyMap(rp.OptionalDependencies); err != nil {
		return p, err
	}
	if p.DevDependencies, err = toDependencyMap(rp.DevDependencies); err != nil {
		return p, err
	}
	if rp.Sdist != nil {
		a, err := rp.Sdist.toArtifact()
		if err != nil {
			return p, err
		}
		p.Artifacts = append(p.Artifacts, a)
	}
	for _, rw := range rp.Wheels {
		a, err := rw.toArtifact()
		if err != nil {
			return p, err
		}
		p.Artifacts = append(p.Artifacts, a)
	}
	return p, nil
}

func (rs rawSource) toSource() (gps.Source, error) {
	switch {
	case rs.Registry != nil:
		if *rs.Registry == "" {
			// The default registry, written for a nil source.
			return nil, nil
		}
		return gps.RegistrySource{URL: *rs.Registry}, nil
	case rs.URL != nil:
		return gps.URLSource{URL: *rs.URL, Subdirectory: rs.Subdirectory}, nil
	case rs.Git != nil:
		return gps.GitSource{Repository: *rs.Git, Ref: rs.Rev, Commit: rs.Commit, Subdirectory: rs.Subdirectory}, nil
	case rs.Path != nil:
		return gps.PathSource{Path: *rs.Path}, nil
	case rs.Directory != nil:
		return gps.PathSource{Path: *rs.Directory, Directory: true}, nil
	case rs.Editable != nil:
		return gps.PathSource{Path: *rs.Editable, Directory: true, Editable: true}, nil
	case rs.Virtual != nil:
		return gps.PathSource{Path: *rs.Virtual, Directory: true, Virtual: true}, nil
	}
	return nil, errors.New("source has no kind")
}

func toDependencies(rds []rawDependency) ([]gps.Dependency, error) {
	var out []gps.Dependency
	for _, rd := range rds {
		d := gps.Dependency{Name: gps.NormalizeName(rd.Name)}
		var err error
		if rd.Version != "" {
			if d.Version, err = pep440.Parse(rd.Version); err != nil {
				return nil, errors.Wrapf(err, "dependency %s", rd.Name)
			}
		}
		if rd.Source != nil {
			if d.Source, err = rd.Source.toSource(); err != nil {
				return nil, errors.Wrapf(err, "dependency %s", rd.Name)
			}
		}
		for _, e := range rd.Extra {
			d.Extras = append(d.Extras, gps.NormalizeExtra(e))
		}
		if rd.Marker != "" {
			if d.Marker, err = markers.Parse(rd.Marker); err != nil {
				return nil, errors.Wrapf(err, "dependency %s", rd.Name)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func toDependencyMap(m map[string][]rawDependency) (map[gps.ExtraName][]gps.Dependency, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[gps.ExtraName][]gps.Dependency, len(m))
	for k, rds := range m {
		ds, err := toDependencies(rds)
		if err != nil {
			return nil, err
		}
		out[gps.NormalizeExtra(k)] = ds
	}
	return out, nil
}

func (ra rawArtifact) toArtifact() (gps.Artifact, error) {
	a := gps.Artifact{URL: ra.URL, Filename: ra.Filename, Hash: ra.Hash, Size: ra.Size}
	if a.Filename == "" {
		a.Filename = path.Base(ra.URL)
		if u, err := url.Parse(ra.URL); err == nil && u.Path != "" {
			a.Filename = path.Base(u.Path)
		}
	}
	if ra.UploadTime != "" {
		t, err := time.Parse(time.RFC3339Nano, ra.UploadTime)
		if err != nil {
			return a, errors.Wrapf(err, "invalid upload-time for %s", a.Filename)
		}
		a.UploadTime = t.UTC()
	}
	return a, nil
}

// MarshalTOML serializes l. The output depends only on the lock's content:
// keys are written in a fixed order, defaults are omitted, and collections
// are sorted.
func (l *Lock) MarshalTOML() ([]byte, error) {
	w := &lockWriter{}

	w.int("version", l.Version)
	w.int("revision", l.Revision)
	if len(l.RequiresPython) > 0 {
		w.str("requires-python", l.RequiresPython.String())
	}
	w.strArray("resolution-markers", markerStrings(l.ResolutionMarkers))
	if len(l.Conflicts) > 0 {
		w.conflicts(l.Conflicts)
	}

	if opts := l.Options.nonDefault(); len(opts) > 0 {
		w.table("options")
		for _, kv := range opts {
			if kv.list != nil {
				w.strArray(kv.key, kv.list)
			} else {
				w.str(kv.key, kv.val)
			}
		}
	}

	man := l.Manifest
	if len(man.Members)+len(man.Requirements)+len(man.Constraints)+len(man.Overrides)+len(man.DependencyGroups) > 0 {
		members := make([]string, len(man.Members))
		for i, m := range man.Members {
			members[i] = string(m)
		}
		sort.Strings(members)
		w.table("manifest")
		w.strArray("members", members)
		w.strArray("requirements", sortedStrings(requirementStrings(man.Requirements)))
		w.strArray("constraints", sortedStrings(requirementStrings(man.Constraints)))
		w.strArray("overrides", sortedStrings(requirementStrings(man.Overrides)))

		if len(man.DependencyGroups) > 0 {
			gs := make([]string, 0, len(man.DependencyGroups))
			for g := range man.DependencyGroups {
				gs = append(gs, string(g))
			}
			sort.Strings(gs)
			w.table("manifest.dependency-groups")
			for _, g := range gs {
				rs := sortedStrings(requirementStrings(man.DependencyGroups[gps.ExtraName(g)]))
				if len(rs) == 0 {
					fmt.Fprintf(&w.buf, "%s = []\n", key(g))
					continue
				}
				w.strArray(key(g), rs)
			}
		}
	}

	for _, p := range l.Packages {
		if err := w.pkg(p); err != nil {
			return nil, errors.Wrapf(err, "failed to write %s %s", p.Name, p.Version)
		}
	}
	return w.buf.Bytes(), nil
}

type optionKV struct {
	key  string
	val  string
	list []string
}

func (o LockOptions) nonDefault() []optionKV {
	var out []optionKV
	if o.Resolution != gps.StrategyHighest {
		out = append(out, optionKV{key: "resolution-mode", val: o.Resolution.String()})
	}
	if o.Prerelease != gps.PrereleaseIfNecessaryOrExplicit {
		out = append(out, optionKV{key: "prerelease-mode", val: o.Prerelease.String()})
	}
	if o.ForkStrategy != gps.ForkRequiresPython {
		out = append(out, optionKV{key: "fork-strategy", val: o.ForkStrategy.String()})
	}
	if o.IndexStrategy != gps.FirstIndex {
		out = append(out, optionKV{key: "index-strategy", val: o.IndexStrategy.String()})
	}
	if !o.ExcludeNewer.IsZero() {
		out = append(out, optionKV{key: "exclude-newer", val: o.ExcludeNewer.UTC().Format(time.RFC3339)})
	}
	if len(o.Environments) > 0 {
		out = append(out, optionKV{key: "environments", list: markerStrings(o.Environments)})
	}
	return out
}

func sortedStrings(ss []string) []string {
	sort.Strings(ss)
	return ss
}

// lockWriter emits the lock document. Tables are separated by a blank line.
type lockWriter struct {
	buf bytes.Buffer
}

func (w *lockWriter) table(name string) {
	fmt.Fprintf(&w.buf, "\n[%s]\n", name)
}

func (w *lockWriter) arrayTable(name string) {
	fmt.Fprintf(&w.buf, "\n[[%s]]\n", name)
}

func (w *lockWriter) int(k string, v int) {
	fmt.Fprintf(&w.buf, "%s = %d\n", k, v)
}

func (w *lockWriter) str(k, v string) {
	fmt.Fprintf(&w.buf, "%s = %s\n", k, quote(v))
}

func (w *lockWriter) strArray(k string, vs []string) {
	if len(vs) == 0 {
		return
	}
	fmt.Fprintf(&w.buf, "%s = [\n", k)
	for _, v := range vs {
		fmt.Fprintf(&w.buf, "    %s,\n", quote(v))
	}
	w.buf.WriteString("]\n")
}

func (w *lockWriter) conflicts(sets []gps.ConflictSet) {
	w.buf.WriteString("conflicts = [")
	for i, set := range sets {
		if i > 0 {
			w.buf.WriteString(", ")
		}
		w.buf.WriteString("[\n")
		for _, it := range set {
			kv := [][2]string{{"package", string(it.Package)}}
			if it.Group != "" {
				kv = append(kv, [2]string{"group", string(it.Group)})
			} else {
				kv = append(kv, [2]string{"extra", string(it.Extra)})
			}
			fmt.Fprintf(&w.buf, "    %s,\n", inlineTable(kv))
		}
		w.buf.WriteString("]")
	}
	w.buf.WriteString("]\n")
}

func (w *lockWriter) pkg(p gps.ResolvedPackage) error {
	w.arrayTable("package")
	w.str("name", string(p.Name))
	w.str("version", p.Version.String())
	src, err := sourceTable(p.Source)
	if err != nil {
		return err
	}
	fmt.Fprintf(&w.buf, "source = %s\n", src)
	if p.Index != "" {
		w.str("index", p.Index)
	}
	w.strArray("resolution-markers", markerStrings(p.ForkMarkers))
	if len(p.RequiresPython) > 0 {
		w.str("requires-python", p.RequiresPython.String())
	}
	if p.Yanked {
		w.buf.WriteString("yanked = true\n")
	}
	if err := w.deps("dependencies", p.Dependencies); err != nil {
		return err
	}

	var wheels []string
	for _, a := range p.Artifacts {
		t := artifactTable(a)
		if a.Kind() == gps.DistWheel {
			wheels = append(wheels, t)
			continue
		}
		fmt.Fprintf(&w.buf, "sdist = %s\n", t)
	}
	if len(wheels) > 0 {
		w.buf.WriteString("wheels = [\n")
		for _, t := range wheels {
			fmt.Fprintf(&w.buf, "    %s,\n", t)
		}
		w.buf.WriteString("]\n")
	}

	if err := w.depMap("package.optional-dependencies", p.OptionalDependencies); err != nil {
		return err
	}
	return w.depMap("package.dev-dependencies", p.DevDependencies)
}

func (w *lockWriter) deps(k string, ds []gps.Dependency) error {
	if len(ds) == 0 {
		return nil
	}
	fmt.Fprintf(&w.buf, "%s = [\n", key(k))
	for _, d := range sortedDeps(ds) {
		kv := [][2]string{{"name", string(d.Name)}}
		if !d.Version.IsZero() {
			kv = append(kv, [2]string{"version", d.Version.String()})
		}
		t := inlineTable(kv)
		if d.Source != nil {
			src, err := sourceTable(d.Source)
			if err != nil {
				return err
			}
			t = strings.TrimSuffix(t, " }") + ", source = " + src + " }"
		}
		if len(d.Extras) > 0 {
			es := d.Extras.Strings()
			sort.Strings(es)
			qs := make([]string, len(es))
			for i, e := range es {
				qs[i] = quote(e)
			}
			t = strings.TrimSuffix(t, " }") + ", extra = [" + strings.Join(qs, ", ") + "] }"
		}
		if !d.Marker.IsTrue() {
			t = strings.TrimSuffix(t, " }") + ", marker = " + quote(d.Marker.String()) + " }"
		}
		fmt.Fprintf(&w.buf, "    %s,\n", t)
	}
	w.buf.WriteString("]\n")
	return nil
}

func (w *lockWriter) depMap(table string, m map[gps.ExtraName][]gps.Dependency) error {
	if len(m) == 0 {
		return nil
	}
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, string(k))
	}
	sort.Strings(ks)
	w.table(table)
	for _, k := range ks {
		ds := m[gps.ExtraName(k)]
		if len(ds) == 0 {
			fmt.Fprintf(&w.buf, "%s = []\n", key(k))
			continue
		}
		if err := w.deps(k, ds); err != nil {
			return err
		}
	}
	return nil
}

// sortedDeps orders dependencies by name, version, source and marker.
func sortedDeps(ds []gps.Dependency) []gps.Dependency {
	out := append([]gps.Dependency(nil), ds...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if c := a.Version.Compare(b.Version); c != 0 {
			return c < 0
		}
		if sa, sb := depSourceKey(a.Source), depSourceKey(b.Source); sa != sb {
			return sa < sb
		}
		return a.Marker.String() < b.Marker.String()
	})
	return out
}

func depSourceKey(s gps.Source) string {
	if s == nil {
		return ""
	}
	return s.String()
}

func sourceTable(s gps.Source) (string, error) {
	switch s := s.(type) {
	case nil:
		return inlineTable([][2]string{{"registry", ""}}), nil
	case gps.RegistrySource:
		return inlineTable([][2]string{{"registry", s.URL}}), nil
	case gps.URLSource:
		kv := [][2]string{{"url", s.URL}}
		if s.Subdirectory != "" {
			kv = append(kv, [2]string{"subdirectory", s.Subdirectory})
		}
		return inlineTable(kv), nil
	case gps.PathSource:
		k := "path"
		switch {
		case s.Virtual:
			k = "virtual"
		case s.Editable:
			k = "editable"
		case s.Directory:
			k = "directory"
		}
		return inlineTable([][2]string{{k, s.Path}}), nil
	case gps.GitSource:
		kv := [][2]string{{"git", s.Repository}}
		if s.Ref != "" {
			kv = append(kv, [2]string{"rev", s.Ref})
		}
		if s.Commit != "" {
			kv = append(kv, [2]string{"commit", s.Commit})
		}
		if s.Subdirectory != "" {
			kv = append(kv, [2]string{"subdirectory", s.Subdirectory})
		}
		return inlineTable(kv), nil
	}
	return "", errors.Errorf("cannot serialize source %v", s)
}

func artifactTable(a gps.Artifact) string {
	var kv [][2]string
	if a.URL != "" {
		kv = append(kv, [2]string{"url", a.URL})
		if u, err := url.Parse(a.URL); err != nil || path.Base(u.Path) != a.Filename {
			kv = append(kv, [2]string{"filename", a.Filename})
		}
	} else {
		kv = append(kv, [2]string{"filename", a.Filename})
	}
	if a.Hash != "" {
		kv = append(kv, [2]string{"hash", a.Hash})
	}
	t := inlineTable(kv)
	if a.Size > 0 {
		t = strings.TrimSuffix(t, " }") + ", size = " + strconv.FormatInt(a.Size, 10) + " }"
	}
	if !a.UploadTime.IsZero() {
		t = strings.TrimSuffix(t, " }") + ", upload-time = " + quote(a.UploadTime.UTC().Format(time.RFC3339Nano)) + " }"
	}
	return t
}

func inlineTable(kv [][2]string) string {
	parts := make([]string, len(kv))
	for i, p := range kv {
		parts[i] = p[0] + " = " + quote(p[1])
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// key renders a table key, quoting it unless it is bare.
func key(k string) string {
	for _, c := range k {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return quote(k)
		}
	}
	if k == "" {
		return `""`
	}
	return k
}

// quote renders s as a TOML basic string.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, c := range s {
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\u%04X`, c)
			} else {
				b.WriteRune(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
