// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/boltdb/bolt"
	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pydep/pydep/gps/pep440"
)

// boltCache manages a BoltDB file holding package metadata for every source.
// Stored release lists are timestamped, and the `epoch` field limits the age
// of returned values. Database access methods are safe for concurrent use with
// each other (excluding close).
//
// Implementation:
//
// At the top level there is one bucket per source, keyed by a hash of the
// source identity:
//
//	Bucket: "src:<xxhash of source>"
//
// Within it, one bucket per package:
//
//	Sub-Bucket: "pkg:<name>"
//
// which holds (a) timestamped release lists and (b) per-version metadata:
//
//	a) Sub-Bucket: "releases:<timestamp>"
//	   Key: "list"
//	   Value: zstd-compressed release list
//
//	b) Key: "meta:<version>"
//	   Value: zstd-compressed core metadata
type boltCache struct {
	db     *bolt.DB
	epoch  int64 // getters will not return release lists older than this unix timestamp
	logger *logrus.Logger
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// newBoltCache returns a new boltCache backed by a BoltDB file under the cache directory.
func newBoltCache(cd string, epoch int64, logger *logrus.Logger) (*boltCache, error) {
	path := filepath.Join(cd, "metadata.db")
	dir := filepath.Dir(path)
	if fi, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, os.ModeDir|os.ModePerm); err != nil {
			return nil, errors.Wrapf(err, "failed to create source cache directory: %s", dir)
		}
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to check source cache directory: %s", dir)
	} else if !fi.IsDir() {
		return nil, errors.Errorf("source cache path is not directory: %s", dir)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open BoltDB cache file %q", path)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create cache encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create cache decoder")
	}
	return &boltCache{
		db:     db,
		epoch:  epoch,
		logger: logger,
		enc:    enc,
		dec:    dec,
	}, nil
}

// newSingleSourceCache returns a singleSourceCache for the source identified by src.
func (c *boltCache) newSingleSourceCache(src string) singleSourceCache {
	return &singleSourceCacheBolt{
		boltCache: c,
		sourceKey: []byte("src:" + strconv.FormatUint(xxhash.Sum64String(src), 16)),
	}
}

// close releases all cache resources.
// Must not be called concurrently with any other methods.
func (c *boltCache) close() error {
	c.dec.Close()
	if err := c.enc.Close(); err != nil {
		c.logger.WithError(err).Debug("failed to close cache encoder")
	}
	return errors.Wrapf(c.db.Close(), "error closing Bolt database %q", c.db.String())
}

// singleSourceCacheBolt implements a singleSourceCache backed by a persistent BoltDB file.
type singleSourceCacheBolt struct {
	*boltCache
	sourceKey []byte
}

func (s *singleSourceCacheBolt) setReleases(name PackageName, rs []Release) {
	err := s.updatePackage(name, func(b *bolt.Bucket) error {
		if err := cachePrefixDelete(b, "releases:"); err != nil {
			return err
		}
		rb, err := b.CreateBucket(cacheTimestampedKey("releases:", time.Now()))
		if err != nil {
			return err
		}
		v, err := s.encode(cacheEncodeReleases(rs))
		if err != nil {
			return errors.Wrapf(err, "failed to encode releases of %s", name)
		}
		return rb.Put([]byte("list"), v)
	})
	if err != nil {
		s.logger.WithError(err).WithField("name", name).Warn("failed to cache releases")
	}
}

func (s *singleSourceCacheBolt) getReleases(name PackageName) (rs []Release, ok bool) {
	err := s.viewPackage(name, func(b *bolt.Bucket) error {
		rb := cacheFindLatestValid(b, "releases:", s.epoch)
		if rb == nil {
			return nil
		}
		v := rb.Get([]byte("list"))
		if v == nil {
			return nil
		}
		var crs []cachedRelease
		if err := s.decode(v, &crs); err != nil {
			return errors.Wrapf(err, "failed to decode releases of %s", name)
		}
		var err error
		rs, err = cacheDecodeReleases(crs)
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("name", name).Warn("failed to get cached releases")
		return nil, false
	}
	return rs, ok
}

func (s *singleSourceCacheBolt) setMetadata(name PackageName, v pep440.Version, m Metadata) {
	err := s.updatePackage(name, func(b *bolt.Bucket) error {
		val, err := s.encode(cacheEncodeMetadata(m))
		if err != nil {
			return errors.Wrapf(err, "failed to encode metadata of %s %s", name, v)
		}
		return b.Put([]byte("meta:"+v.String()), val)
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"name": name, "version": v}).Warn("failed to cache metadata")
	}
}

func (s *singleSourceCacheBolt) getMetadata(name PackageName, v pep440.Version) (m Metadata, ok bool) {
	err := s.viewPackage(name, func(b *bolt.Bucket) error {
		val := b.Get([]byte("meta:" + v.String()))
		if val == nil {
			return nil
		}
		var cm cachedMetadata
		if err := s.decode(val, &cm); err != nil {
			return errors.Wrapf(err, "failed to decode metadata of %s %s", name, v)
		}
		var err error
		m, err = cacheDecodeMetadata(cm)
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"name": name, "version": v}).Warn("failed to get cached metadata")
		return Metadata{}, false
	}
	return m, ok
}

// viewPackage executes view with the package's bucket, if it exists.
func (s *singleSourceCacheBolt) viewPackage(name PackageName, view func(b *bolt.Bucket) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket(s.sourceKey)
		if sb == nil {
			return nil
		}
		b := sb.Bucket([]byte("pkg:" + name))
		if b == nil {
			return nil
		}
		return view(b)
	})
}

// updatePackage executes update with the package's bucket, creating it first if necessary.
func (s *singleSourceCacheBolt) updatePackage(name PackageName, update func(b *bolt.Bucket) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sb, err := tx.CreateBucketIfNotExists(s.sourceKey)
		if err != nil {
			return errors.Wrapf(err, "failed to create bucket: %s", s.sourceKey)
		}
		b, err := sb.CreateBucketIfNotExists([]byte("pkg:" + name))
		if err != nil {
			return errors.Wrapf(err, "failed to create bucket for %s", name)
		}
		return update(b)
	})
}
