// Package listsync wires sharded storage, quorum routing and the buffered
// merge pipeline behind a single configuration surface.
package listsync

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/listsync/internal/constants"
	"github.com/hyp3rd/listsync/pkg/shard"
)

// Config is a struct that wraps all the configuration options to set up the
// sync service and its shard fleet.
type Config struct {
	// Shards is the ordered set of shard descriptors the router partitions keys across.
	Shards []shard.Descriptor
	// QueueURL is the connection URL of the redis instance backing the job queue.
	QueueURL string
	// Replication is the number of shards each key is written to.
	Replication int
	// WriteQuorum is the number of shard acknowledgements a write needs to succeed.
	WriteQuorum int
	// ReadQuorum is the number of shard responses a read needs to succeed.
	ReadQuorum int
	// VirtualNodes is the number of virtual nodes each shard contributes to the ring.
	VirtualNodes int
}

// NewConfig returns a new `Config` struct with default values:
//   - `Replication` set to `constants.DefaultReplication`
//   - `WriteQuorum` set to `constants.DefaultWriteQuorum`
//   - `ReadQuorum` set to `constants.DefaultReadQuorum`
//   - `VirtualNodes` set to `constants.DefaultVirtualNodes`
//
// Shard descriptors and the queue URL have no defaults and must be provided,
// either directly or via `NewConfigFromEnv`.
func NewConfig() *Config {
	return &Config{
		Shards:       []shard.Descriptor{},
		Replication:  constants.DefaultReplication,
		WriteQuorum:  constants.DefaultWriteQuorum,
		ReadQuorum:   constants.DefaultReadQuorum,
		VirtualNodes: constants.DefaultVirtualNodes,
	}
}

// NewConfigFromEnv builds a `Config` from the process environment.
// Shard slots are declared with one variable per slot, numbered from one:
//
//	LISTSYNC_SHARD_1_URL=redis://shard-one:6379/0
//	LISTSYNC_SHARD_2_URL=redis://shard-two:6379/0
//
// Slot numbering must be contiguous; scanning stops at the first missing slot.
// The queue connection comes from `LISTSYNC_QUEUE_URL`, and the quorum knobs
// from `LISTSYNC_REPLICATION`, `LISTSYNC_WRITE_QUORUM`, `LISTSYNC_READ_QUORUM`
// and `LISTSYNC_VIRTUAL_NODES` when set.
func NewConfigFromEnv() (*Config, error) {
	config := NewConfig()

	for slot := 1; ; slot++ {
		rawURL, ok := os.LookupEnv(fmt.Sprintf("LISTSYNC_SHARD_%d_URL", slot))
		if !ok {
			break
		}

		if strings.TrimSpace(rawURL) == "" {
			return nil, ewrap.Newf("shard slot %d has an empty connection url", slot)
		}

		config.Shards = append(config.Shards, shard.Descriptor{
			Name:          fmt.Sprintf("shard-%d", slot),
			ConnectionURL: rawURL,
		})
	}

	if len(config.Shards) == 0 {
		return nil, ewrap.New("no shard slots configured, set LISTSYNC_SHARD_1_URL")
	}

	config.QueueURL = os.Getenv("LISTSYNC_QUEUE_URL")
	if strings.TrimSpace(config.QueueURL) == "" {
		return nil, ewrap.New("queue url is empty, set LISTSYNC_QUEUE_URL")
	}

	err := overrideIntFromEnv("LISTSYNC_REPLICATION", &config.Replication)
	if err != nil {
		return nil, err
	}

	err = overrideIntFromEnv("LISTSYNC_WRITE_QUORUM", &config.WriteQuorum)
	if err != nil {
		return nil, err
	}

	err = overrideIntFromEnv("LISTSYNC_READ_QUORUM", &config.ReadQuorum)
	if err != nil {
		return nil, err
	}

	err = overrideIntFromEnv("LISTSYNC_VIRTUAL_NODES", &config.VirtualNodes)
	if err != nil {
		return nil, err
	}

	return config, nil
}

func overrideIntFromEnv(name string, target *int) error {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return ewrap.Wrapf(err, "parsing %s", name)
	}

	if value < 1 {
		return ewrap.Newf("%s must be at least 1, got %d", name, value)
	}

	*target = value

	return nil
}
