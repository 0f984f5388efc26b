// Package config loads the bitswapd daemon's TOML configuration file,
// grounded on the pack's BurntSushi/toml usage for flat, human-edited
// daemon config.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk shape of a bitswapd config file. Every field has
// a documented default applied by Default(), so an empty or partial file
// still produces a runnable daemon.
type Config struct {
	Identity struct {
		PrivKeyFile string `toml:"priv_key_file"`
	} `toml:"identity"`

	Swarm struct {
		ListenAddrs     []string `toml:"listen_addrs"`
		BootstrapPeers  []string `toml:"bootstrap_peers"`
	} `toml:"swarm"`

	Datastore struct {
		Path string `toml:"path"`
	} `toml:"datastore"`

	Bitswap struct {
		TaskWorkerCount     int           `toml:"task_worker_count"`
		RebroadcastInterval time.Duration `toml:"rebroadcast_interval"`
	} `toml:"bitswap"`

	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// Default returns the configuration a freshly initialized node runs
// with, per §6's documented defaults.
func Default() *Config {
	c := &Config{}
	c.Swarm.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/4001"}
	c.Datastore.Path = "~/.bitswapd/datastore"
	c.Bitswap.TaskWorkerCount = 8
	c.Bitswap.RebroadcastInterval = 10 * time.Second
	c.Log.Level = "info"
	return c
}

// Load reads and decodes the TOML file at path on top of Default(), so
// a partial file only overrides what it sets. A missing file is not an
// error: Load falls back to Default() so the daemon can start with no
// config file at all, per §11.
func Load(path string) (*Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, c); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return c, nil
}
