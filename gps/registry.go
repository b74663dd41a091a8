// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps/pep440"
)

const simpleJSON = "application/vnd.pypi.simple.v1+json"

// SimpleClient is an IndexClient for a registry speaking the JSON form of
// the simple repository API. It also fetches direct URL references.
type SimpleClient struct {
	url   string
	token string
	http  *http.Client

	mu    sync.Mutex
	files map[PackageName][]rawFile
}

// NewSimpleClient creates a client for the index at rURL. A non-empty token
// is sent as a bearer token.
func NewSimpleClient(rURL, token string) *SimpleClient {
	return &SimpleClient{
		url:   strings.TrimSuffix(rURL, "/"),
		token: token,
		http:  http.DefaultClient,
		files: make(map[PackageName][]rawFile),
	}
}

// URL returns the registry URL.
func (c *SimpleClient) URL() string {
	return c.url
}

type rawProject struct {
	Name  string    `json:"name"`
	Files []rawFile `json:"files"`
}

type rawFile struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Hashes         map[string]string `json:"hashes"`
	RequiresPython string            `json:"requires-python"`
	Yanked         json.RawMessage   `json:"yanked"`
	CoreMetadata   json.RawMessage   `json:"core-metadata"`
	Size           int64             `json:"size"`
	UploadTime     string            `json:"upload-time"`
}

// yanked decodes the yanked field, which is either a boolean or a reason.
func (f rawFile) yanked() (bool, string) {
	if len(f.Yanked) == 0 {
		return false, ""
	}
	var b bool
	if json.Unmarshal(f.Yanked, &b) == nil {
		return b, ""
	}
	var reason string
	if json.Unmarshal(f.Yanked, &reason) == nil {
		return true, reason
	}
	return false, ""
}

// metadataHash returns the sha256 of the file's separately served core
// metadata, if the index serves it.
func (f rawFile) metadataHash() (string, bool) {
	if len(f.CoreMetadata) == 0 {
		return "", false
	}
	var b bool
	if json.Unmarshal(f.CoreMetadata, &b) == nil {
		return "", b
	}
	var hs map[string]string
	if json.Unmarshal(f.CoreMetadata, &hs) == nil {
		return hs["sha256"], true
	}
	return "", false
}

func (f rawFile) artifact(base *url.URL) Artifact {
	a := Artifact{Filename: f.Filename, URL: f.URL, Size: f.Size}
	if u, err := base.Parse(f.URL); err == nil {
		a.URL = u.String()
	}
	if h := f.Hashes["sha256"]; h != "" {
		a.Hash = "sha256:" + h
	}
	if f.UploadTime != "" {
		if t, err := time.Parse(time.RFC3339, f.UploadTime); err == nil {
			a.UploadTime = t.UTC()
		}
	}
	return a
}

// statusError is a non-200 response. Server errors are temporary.
type statusError struct {
	url  string
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("%s: %s", e.url, http.StatusText(e.code))
}

func (e statusError) Temporary() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

func (c *SimpleClient) get(ctx context.Context, u, accept string) (*http.Response, error) {
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusError{url: u, code: resp.StatusCode}
	}
	return resp, nil
}

// Releases lists every release of name, grouping the index's files by the
// version in their filenames.
func (c *SimpleClient) Releases(ctx context.Context, name PackageName) ([]Release, error) {
	u := c.url + "/" + url.PathEscape(string(name)) + "/"
	resp, err := c.get(ctx, u, simpleJSON)
	if se, ok := errors.Cause(err).(statusError); ok && se.code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rp rawProject
	if err := json.NewDecoder(resp.Body).Decode(&rp); err != nil {
		return nil, errors.Wrapf(err, "malformed index page for %s", name)
	}
	base, _ := url.Parse(u)

	c.mu.Lock()
	c.files[name] = rp.Files
	c.mu.Unlock()

	byVersion := make(map[string]*Release)
	var order []string
	yankedAll := make(map[string]bool)
	for _, f := range rp.Files {
		fn, v, _, ok := parseDistFilename(f.Filename)
		if !ok || fn != name {
			continue
		}
		k := v.String()
		r, has := byVersion[k]
		if !has {
			r = &Release{Version: v}
			if f.RequiresPython != "" {
				if spec, err := pep440.ParseSpecifiers(f.RequiresPython); err == nil {
					r.RequiresPython = spec
				}
			}
			byVersion[k] = r
			order = append(order, k)
			yankedAll[k] = true
		}
		y, reason := f.yanked()
		if !y {
			yankedAll[k] = false
		} else if r.YankedReason == "" {
			r.YankedReason = reason
		}
		r.Artifacts = append(r.Artifacts, f.artifact(base))
	}

	out := make([]Release, 0, len(order))
	for _, k := range order {
		r := byVersion[k]
		r.Yanked = yankedAll[k]
		if !r.Yanked {
			r.YankedReason = ""
		}
		out = append(out, *r)
	}
	sortReleases(out)
	return out, nil
}

// Metadata fetches the core metadata of one release. Separately served
// wheel metadata is preferred; otherwise a wheel, then a source
// distribution, is downloaded and read.
func (c *SimpleClient) Metadata(ctx context.Context, name PackageName, v pep440.Version) (Metadata, error) {
	c.mu.Lock()
	files, has := c.files[name]
	c.mu.Unlock()
	if !has {
		if _, err := c.Releases(ctx, name); err != nil {
			return Metadata{}, err
		}
		c.mu.Lock()
		files = c.files[name]
		c.mu.Unlock()
	}

	base, _ := url.Parse(c.url + "/" + url.PathEscape(string(name)) + "/")
	var wheel, sdist *rawFile
	for i := range files {
		_, fv, kind, ok := parseDistFilename(files[i].Filename)
		if !ok || !fv.Equal(v) {
			continue
		}
		if kind == DistWheel {
			if h, ok := files[i].metadataHash(); ok {
				return c.coreMetadata(ctx, files[i].artifact(base).URL+".metadata", h)
			}
			if wheel == nil {
				wheel = &files[i]
			}
		} else if sdist == nil {
			sdist = &files[i]
		}
	}

	switch {
	case wheel != nil:
		return c.archiveMetadata(ctx, wheel.artifact(base))
	case sdist != nil:
		return c.archiveMetadata(ctx, sdist.artifact(base))
	}
	return Metadata{}, errors.Errorf("%s %s has no files on %s", name, v, c.url)
}

func (c *SimpleClient) coreMetadata(ctx context.Context, u, sum string) (Metadata, error) {
	resp, err := c.get(ctx, u, "")
	if err != nil {
		return Metadata{}, err
	}
	defer resp.Body.Close()
	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return Metadata{}, err
	}
	if sum != "" {
		h := sha256.Sum256(raw)
		if hex.EncodeToString(h[:]) != sum {
			return Metadata{}, errors.Errorf("sha256 checksum validation failed for %s", u)
		}
	}
	return ParseCoreMetadata(bytes.NewReader(raw))
}

// download fetches a to a temporary file, checking its hash when it has one.
// The caller removes the file.
func (c *SimpleClient) download(ctx context.Context, a Artifact) (string, Artifact, error) {
	resp, err := c.get(ctx, a.URL, "")
	if err != nil {
		return "", a, err
	}
	defer resp.Body.Close()

	tmp, err := ioutil.TempFile("", "pydep-*-"+a.Filename)
	if err != nil {
		return "", a, errors.Wrap(err, "failed to create temp file")
	}
	h := sha256.New()
	n, err := io.Copy(tmp, io.TeeReader(resp.Body, h))
	tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return "", a, errors.Wrapf(err, "failed to download %s", a.URL)
	}

	got := "sha256:" + hex.EncodeToString(h.Sum(nil))
	if a.Hash != "" && a.Hash != got {
		os.Remove(tmp.Name())
		return "", a, errors.Errorf("sha256 checksum validation failed for %s", a.URL)
	}
	a.Hash, a.Size = got, n
	return tmp.Name(), a, nil
}

func (c *SimpleClient) archiveMetadata(ctx context.Context, a Artifact) (Metadata, error) {
	file, _, err := c.download(ctx, a)
	if err != nil {
		return Metadata{}, err
	}
	defer os.Remove(file)
	if a.Kind() == DistWheel {
		return wheelMetadata(file)
	}
	return sdistMetadata(file)
}

// FetchURL downloads a direct URL reference and reads its metadata.
func (c *SimpleClient) FetchURL(ctx context.Context, src URLSource) (Metadata, Artifact, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return Metadata{}, Artifact{}, errors.Wrapf(err, "bad URL %q", src.URL)
	}
	a := Artifact{Filename: path.Base(u.Path), URL: src.URL}
	if frag := u.Fragment; strings.HasPrefix(frag, "sha256=") {
		a.Hash = "sha256:" + strings.TrimPrefix(frag, "sha256=")
	}
	file, a, err := c.download(ctx, a)
	if err != nil {
		return Metadata{}, Artifact{}, err
	}
	defer os.Remove(file)

	var m Metadata
	if a.Kind() == DistWheel {
		m, err = wheelMetadata(file)
	} else {
		m, err = sdistMetadata(file)
	}
	return m, a, err
}
