package partition

import (
	"io/ioutil"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// StoreConfig configures a partition Store. Mirrors spec.md's
// USE_OUT_OF_CORE_GRAPH / MAX_PARTITIONS_IN_MEMORY configuration keys:
// ResidentCap being zero selects the resident-only store, a positive value
// selects the disk-backed store with that many resident partitions.
type StoreConfig struct {
	// ResidentCap is the maximum number of partitions kept in memory by a
	// disk-backed store (K in spec.md §4.1). Zero means "no cap" and
	// NewStore returns a purely resident store.
	ResidentCap int

	// Dir is the directory spilled partition files are written under, as
	// partition-<id>.bin. Required when ResidentCap > 0.
	Dir string

	// Logger receives store diagnostics (evictions, load failures).
	Logger *logrus.Entry
}

// Validate patches defaults and reports configuration errors.
func (c *StoreConfig) Validate() error {
	var err error
	if c.ResidentCap > 0 && c.Dir == "" {
		err = multierror.Append(err, xerrors.New("partition.StoreConfig: Dir is required when ResidentCap > 0"))
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(discardLogger())
	}
	return err
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	return l
}
