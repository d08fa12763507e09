package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"coda"
	"coda/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	assert.Nil(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, coda.BTree, cfg.Broker.CatalogType)

	dir, _ := os.MkdirTemp("", "coda-config")
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "coda.yaml")
	content := `
log_level: debug
server:
  addr: 0.0.0.0:19092
broker:
  dir_path: /var/lib/coda
  catalog_type: bptree
  sync_writes: true
pipeline:
  store_queue_size: 16
  batch_responses: true
`
	assert.Nil(t, os.WriteFile(path, []byte(content), 0644))

	f := &flags{configPath: path, addr: "127.0.0.1:9999"}
	cfg, err = f.load()
	assert.Nil(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/coda", cfg.Broker.DirPath)
	assert.Equal(t, coda.BPlusTree, cfg.Broker.CatalogType)
	assert.True(t, cfg.Broker.SyncWrites)
	assert.True(t, cfg.Broker.AutoCreateShards)
	assert.Equal(t, 16, cfg.Pipeline.StoreQueueSize)
	assert.Equal(t, 1024, cfg.Pipeline.RequestQueueSize)
	assert.True(t, cfg.Pipeline.BatchResponses)

	assert.Nil(t, os.WriteFile(path, []byte("broker:\n  catalog_type: skiplist\n"), 0644))
	_, err = loadConfig(path)
	assert.NotNil(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn")
	assert.Nil(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger("verbose")
	assert.NotNil(t, err)
}

func TestListShards(t *testing.T) {
	dir, _ := os.MkdirTemp("", "coda-shards")
	defer os.RemoveAll(dir)

	opts := coda.DefaultOptions
	opts.DirPath = dir
	opts.CatalogType = coda.ART
	broker, err := coda.Open(opts)
	require.Nil(t, err)
	for shard := int32(0); shard < 2; shard++ {
		_, err = broker.Append("orders", shard, utils.TestRecords("o", 3)...)
		require.Nil(t, err)
	}
	_, err = broker.Append("payments", 0, utils.TestRecords("p", 1)...)
	require.Nil(t, err)
	require.Nil(t, broker.Close())

	cfg := defaultConfig()
	cfg.Broker.DirPath = dir
	cfg.Broker.CatalogType = coda.ART
	cfg.LogLevel = "error"

	var out bytes.Buffer
	assert.Nil(t, listShards(cfg, "orders", false, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, 2, len(lines))
	assert.True(t, strings.HasPrefix(lines[0], "orders\t0\tbase=0\tnext=3"))
	assert.True(t, strings.HasPrefix(lines[1], "orders\t1\tbase=0\tnext=3"))

	out.Reset()
	assert.Nil(t, listShards(cfg, "", true, &out))
	assert.Equal(t, 3, strings.Count(out.String(), "\n"))
}
