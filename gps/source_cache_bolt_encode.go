// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps/pep440"
)

type cachedArtifact struct {
	Filename   string    `json:"filename"`
	URL        string    `json:"url"`
	Hash       string    `json:"hash,omitempty"`
	Size       int64     `json:"size,omitempty"`
	UploadTime time.Time `json:"upload_time,omitempty"`
}

type cachedRelease struct {
	Version        string           `json:"version"`
	Artifacts      []cachedArtifact `json:"artifacts,omitempty"`
	RequiresPython string           `json:"requires_python,omitempty"`
	Yanked         bool             `json:"yanked,omitempty"`
	YankedReason   string           `json:"yanked_reason,omitempty"`
	Index          string           `json:"index,omitempty"`
	IndexURL       string           `json:"index_url,omitempty"`
}

type cachedMetadata struct {
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	RequiresDist   []string `json:"requires_dist,omitempty"`
	RequiresPython string   `json:"requires_python,omitempty"`
	ProvidesExtras []string `json:"provides_extras,omitempty"`
}

func (s *singleSourceCacheBolt) encode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return s.enc.EncodeAll(raw, nil), nil
}

func (s *singleSourceCacheBolt) decode(b []byte, v interface{}) error {
	raw, err := s.dec.DecodeAll(b, nil)
	if err != nil {
		return errors.Wrap(err, "corrupt cache entry")
	}
	return json.Unmarshal(raw, v)
}

// cacheEncodeReleases flattens releases for storage. Only registry releases
// are cached, so the source is reduced to its index URL.
func cacheEncodeReleases(rs []Release) []cachedRelease {
	out := make([]cachedRelease, len(rs))
	for i, r := range rs {
		cr := cachedRelease{
			Version:        r.Version.String(),
			RequiresPython: r.RequiresPython.String(),
			Yanked:         r.Yanked,
			YankedReason:   r.YankedReason,
			Index:          r.Index,
		}
		if reg, ok := r.Source.(RegistrySource); ok {
			cr.IndexURL = reg.URL
		}
		for _, a := range r.Artifacts {
			cr.Artifacts = append(cr.Artifacts, cachedArtifact(a))
		}
		out[i] = cr
	}
	return out
}

func cacheDecodeReleases(crs []cachedRelease) ([]Release, error) {
	out := make([]Release, len(crs))
	for i, cr := range crs {
		v, err := pep440.Parse(cr.Version)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode cached version")
		}
		rp, err := pep440.ParseSpecifiers(cr.RequiresPython)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode cached requires-python")
		}
		r := Release{
			Version:        v,
			RequiresPython: rp,
			Yanked:         cr.Yanked,
			YankedReason:   cr.YankedReason,
			Index:          cr.Index,
			Source:         RegistrySource{URL: cr.IndexURL},
		}
		for _, ca := range cr.Artifacts {
			r.Artifacts = append(r.Artifacts, Artifact(ca))
		}
		out[i] = r
	}
	return out, nil
}

func cacheEncodeMetadata(m Metadata) cachedMetadata {
	cm := cachedMetadata{
		Name:           string(m.Name),
		Version:        m.Version.String(),
		RequiresPython: m.RequiresPython.String(),
		ProvidesExtras: m.ProvidesExtras.Strings(),
	}
	for _, r := range m.RequiresDist {
		cm.RequiresDist = append(cm.RequiresDist, r.String())
	}
	return cm
}

func cacheDecodeMetadata(cm cachedMetadata) (Metadata, error) {
	v, err := pep440.Parse(cm.Version)
	if err != nil {
		return Metadata{}, errors.Wrap(err, "failed to decode cached version")
	}
	rp, err := pep440.ParseSpecifiers(cm.RequiresPython)
	if err != nil {
		return Metadata{}, errors.Wrap(err, "failed to decode cached requires-python")
	}
	reqs, err := ParseRequirements(cm.RequiresDist)
	if err != nil {
		return Metadata{}, errors.Wrap(err, "failed to decode cached requirements")
	}
	m := Metadata{
		Name:           PackageName(cm.Name),
		Version:        v,
		RequiresDist:   reqs,
		RequiresPython: rp,
	}
	for _, e := range cm.ProvidesExtras {
		m.ProvidesExtras = append(m.ProvidesExtras, ExtraName(e))
	}
	return m, nil
}

// cacheTimestampedKey returns a prefixed key with a trailing timestamp.
func cacheTimestampedKey(pre string, t time.Time) []byte {
	b := make([]byte, len(pre)+8)
	copy(b, pre)
	binary.BigEndian.PutUint64(b[len(pre):], uint64(t.Unix()))
	return b
}

// boltTxOrBucket is a minimal interface satisfied by bolt.Tx and bolt.Bucket.
type boltTxOrBucket interface {
	Cursor() *bolt.Cursor
	DeleteBucket([]byte) error
	Bucket([]byte) *bolt.Bucket
}

// cachePrefixDelete prefix scans and deletes each bucket.
func cachePrefixDelete(tob boltTxOrBucket, pre string) error {
	c := tob.Cursor()
	p := []byte(pre)
	var doomed [][]byte
	for k, _ := c.Seek(p); bytes.HasPrefix(k, p); k, _ = c.Next() {
		doomed = append(doomed, append([]byte(nil), k...))
	}
	for _, k := range doomed {
		if err := tob.DeleteBucket(k); err != nil {
			return errors.Wrapf(err, "failed to delete bucket: %s", k)
		}
	}
	return nil
}

// cacheFindLatestValid prefix scans for the latest bucket which is timestamped >= epoch,
// or returns nil if none exists.
func cacheFindLatestValid(tob boltTxOrBucket, pre string, epoch int64) *bolt.Bucket {
	c := tob.Cursor()
	p := []byte(pre)
	var latest []byte
	for k, _ := c.Seek(p); bytes.HasPrefix(k, p); k, _ = c.Next() {
		latest = k
	}
	if latest == nil {
		return nil
	}
	ts := bytes.TrimPrefix(latest, p)
	if len(ts) != 8 {
		return nil
	}
	if int64(binary.BigEndian.Uint64(ts)) < epoch {
		return nil
	}
	return tob.Bucket(latest)
}
