package config

import (
	"fmt"

	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	Replica Replica
	Peers   map[string]string
}

// Replica describes the configuration of the local
// replica process: identity, the sync listener, the
// durable artefacts and the engine tunables.
type Replica struct {
	Name                string
	ListenSyncAddr      string
	PrometheusAddr      string
	DataDir             string
	SnapshotInterval    uint64
	WALSegmentSize      int64
	WALSegmentRetention int
	WaitDeadlineMS      int
	TLS                 *TLS
}

// TLS bundles the certificate material of the sync
// transport. Leaving it out runs the transport over
// plain TCP.
type TLS struct {
	CertLoc     string
	KeyLoc      string
	RootCertLoc string
}

// Functions

// LoadConfig takes in the path to the main config file
// of minidote in TOML syntax and places the values from
// the file in the corresponding struct.
func LoadConfig(configFile string) (*Config, error) {

	conf := new(Config)

	// Parse values from TOML file into struct.
	if _, err := toml.DecodeFile(configFile, conf); err != nil {
		return nil, fmt.Errorf("failed to read in TOML config file at '%s' with: %v", configFile, err)
	}

	if conf.Replica.Name == "" {
		return nil, fmt.Errorf("config at '%s' does not name this replica", configFile)
	}

	// Fall back to the defaults for unset tunables.
	if conf.Replica.SnapshotInterval == 0 {
		conf.Replica.SnapshotInterval = 100
	}

	if conf.Replica.WALSegmentSize == 0 {
		conf.Replica.WALSegmentSize = 8 * 1024 * 1024
	}

	if conf.Replica.WALSegmentRetention == 0 {
		conf.Replica.WALSegmentRetention = 4
	}

	if conf.Replica.DataDir == "" {
		conf.Replica.DataDir = filepath.Join("data", conf.Replica.Name)
	}

	// Prefix a relative data dir with the absolute
	// path of the current working directory.
	if !filepath.IsAbs(conf.Replica.DataDir) {

		absDir, err := filepath.Abs(conf.Replica.DataDir)
		if err != nil {
			return nil, fmt.Errorf("could not get absolute path of data directory: %v", err)
		}

		conf.Replica.DataDir = absDir
	}

	if conf.Replica.TLS != nil {

		if conf.Replica.TLS.CertLoc == "" || conf.Replica.TLS.KeyLoc == "" || conf.Replica.TLS.RootCertLoc == "" {
			return nil, fmt.Errorf("TLS section of config at '%s' needs cert, key and root cert locations", configFile)
		}
	}

	if conf.Peers == nil {
		conf.Peers = make(map[string]string)
	}

	return conf, nil
}
