// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package raftlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/armon/go-metrics"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	bolt "go.etcd.io/bbolt"
)

const databaseFilename = "raftlog.db"

var bucketName = []byte("log")

// backend wraps a single-bucket bbolt database. Log entries and the four
// metadata sentinels (see schema.go) all live in this one bucket; update
// is the atomic-batch primitive every mutating Log Store Core operation
// composes its writes through.
type backend struct {
	db     *bolt.DB
	logger hclog.Logger
}

func openBackend(dir string, logger hclog.Logger) (*backend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("raftlog: failed to create log folder: %w", err)
	}

	dbPath := filepath.Join(dir, databaseFilename)

	st, err := os.Stat(dbPath)
	switch {
	case err != nil && os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("raftlog: error checking log db file %q: %w", dbPath, err)
	default:
		perms := st.Mode() & os.ModePerm
		if perms&0o077 != 0 {
			logger.Warn("raftlog db file has wider permissions than needed",
				"needed", os.FileMode(0o600), "existing", perms)
		}
	}

	start := time.Now()
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("raftlog: failed to open bolt file: %w", err)
	}
	metrics.MeasureSince([]string{"raftlog", "backend", "open"}, start)
	logger.Debug("opened raft log db", "path", dbPath, "elapsed", time.Since(start))

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("raftlog: failed to create bucket: %w", err)
	}

	return &backend{db: db, logger: logger}, nil
}

func (b *backend) view(fn func(*bolt.Bucket) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
}

func (b *backend) update(fn func(*bolt.Bucket) error) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
}

func (b *backend) close() error {
	var result *multierror.Error
	if err := b.db.Sync(); err != nil {
		result = multierror.Append(result, fmt.Errorf("sync: %w", err))
	}
	if err := b.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close: %w", err))
	}
	return result.ErrorOrNil()
}
