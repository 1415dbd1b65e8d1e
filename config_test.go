package listsync

import (
	"fmt"
	"testing"

	"github.com/longbridgeapp/assert"
)

func TestNewConfig_Defaults(t *testing.T) {
	config := NewConfig()

	assert.Equal(t, 3, config.Replication)
	assert.Equal(t, 2, config.WriteQuorum)
	assert.Equal(t, 2, config.ReadQuorum)
	assert.Equal(t, 100, config.VirtualNodes)
	assert.Equal(t, 0, len(config.Shards))
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("LISTSYNC_SHARD_1_URL", "redis://shard-one:6379/0")
	t.Setenv("LISTSYNC_SHARD_2_URL", "redis://shard-two:6379/0")
	t.Setenv("LISTSYNC_QUEUE_URL", "redis://queue:6379/1")
	t.Setenv("LISTSYNC_WRITE_QUORUM", "1")

	config, err := NewConfigFromEnv()
	assert.Nil(t, err)

	assert.Equal(t, 2, len(config.Shards))
	assert.Equal(t, "shard-1", config.Shards[0].Name)
	assert.Equal(t, "redis://shard-one:6379/0", config.Shards[0].ConnectionURL)
	assert.Equal(t, "shard-2", config.Shards[1].Name)
	assert.Equal(t, "redis://queue:6379/1", config.QueueURL)
	assert.Equal(t, 1, config.WriteQuorum)
	assert.Equal(t, 3, config.Replication)
}

func TestNewConfigFromEnv_StopsAtFirstGap(t *testing.T) {
	t.Setenv("LISTSYNC_SHARD_1_URL", "redis://shard-one:6379/0")
	t.Setenv("LISTSYNC_SHARD_3_URL", "redis://shard-three:6379/0")
	t.Setenv("LISTSYNC_QUEUE_URL", "redis://queue:6379/1")

	config, err := NewConfigFromEnv()
	assert.Nil(t, err)
	assert.Equal(t, 1, len(config.Shards))
}

func TestNewConfigFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "no shards",
			env:  map[string]string{"LISTSYNC_QUEUE_URL": "redis://queue:6379/1"},
		},
		{
			name: "blank shard url",
			env: map[string]string{
				"LISTSYNC_SHARD_1_URL": "  ",
				"LISTSYNC_QUEUE_URL":   "redis://queue:6379/1",
			},
		},
		{
			name: "missing queue url",
			env:  map[string]string{"LISTSYNC_SHARD_1_URL": "redis://shard-one:6379/0"},
		},
		{
			name: "non-numeric quorum",
			env: map[string]string{
				"LISTSYNC_SHARD_1_URL": "redis://shard-one:6379/0",
				"LISTSYNC_QUEUE_URL":   "redis://queue:6379/1",
				"LISTSYNC_READ_QUORUM": "two",
			},
		},
		{
			name: "quorum below one",
			env: map[string]string{
				"LISTSYNC_SHARD_1_URL":  "redis://shard-one:6379/0",
				"LISTSYNC_QUEUE_URL":    "redis://queue:6379/1",
				"LISTSYNC_REPLICATION": "0",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			_, err := NewConfigFromEnv()
			assert.True(t, err != nil)
		})
	}
}

func TestNewConfigFromEnv_ManyShards(t *testing.T) {
	for i := 1; i <= 5; i++ {
		t.Setenv(fmt.Sprintf("LISTSYNC_SHARD_%d_URL", i), fmt.Sprintf("redis://shard-%d:6379/0", i))
	}

	t.Setenv("LISTSYNC_QUEUE_URL", "redis://queue:6379/1")

	config, err := NewConfigFromEnv()
	assert.Nil(t, err)
	assert.Equal(t, 5, len(config.Shards))
	assert.Equal(t, "shard-5", config.Shards[4].Name)
}
