// Package checkpoint persists a worker's partitions, pending next-superstep
// messages, and aggregator values to disk so a crashed or restarted worker
// can resume from the last completed superstep instead of replaying the
// whole job (spec.md §4.6's CheckpointFrequency / restart semantics).
package checkpoint

import (
	"io/ioutil"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/bspgraph/message"
	"github.com/dreamware-labs/bspworker/worker/aggregator"
	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	return l
}

// MessageCodec converts between message.Message values and the raw bytes a
// checkpoint file stores. The same concrete codec a worker configures for
// its superstep.Controller should be passed here so a restored message
// round-trips through the identical encoding.
type MessageCodec interface {
	Encode(message.Message) (rpcpb.RawMessage, error)
	Decode(rpcpb.RawMessage) (message.Message, error)
}

// Config configures a Writer/Reader pair. Both share the same fields since
// a checkpoint that cannot be read back with the settings it was written
// under is useless.
type Config struct {
	// Dir is the directory checkpoint files are written to and read from.
	Dir string

	// Codec encodes/decodes the raw messages queued in a worker's inbox.
	Codec MessageCodec

	// Serializer encodes/decodes aggregator values. Defaults to
	// aggregator.DefaultSerializer.
	Serializer aggregator.Serializer

	Logger *logrus.Entry
}

// Validate aggregates configuration errors and patches defaults.
func (cfg *Config) Validate() error {
	var err error
	if cfg.Dir == "" {
		err = multierror.Append(err, xerrors.New("checkpoint.Config: Dir is required"))
	}
	if cfg.Codec == nil {
		err = multierror.Append(err, xerrors.New("checkpoint.Config: Codec is required"))
	}
	if cfg.Serializer == nil {
		cfg.Serializer = aggregator.DefaultSerializer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(discardLogger())
	}
	return err
}
