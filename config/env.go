package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Structs

// Env holds information specific to the system where
// minidote is deployed. This enables host adaptions
// without needing to maintain per-host config files.
// Use the .env file or exported variables to populate
// the values.
type Env struct {
	ReplicaName string
	Peers       map[string]string
}

// Functions

// LoadEnv looks for an .env file in the directory of
// minidote, reads in all defined values and overlays
// them with the variables already exported in the
// process environment. A missing .env file is fine,
// exported variables still apply.
func LoadEnv() (*Env, error) {

	// Load environment file if one is present.
	if _, err := os.Stat(".env"); err == nil {

		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to read in .env file with: %v", err)
		}
	}

	env := &Env{
		Peers: make(map[string]string),
	}

	// Fill variables from environment into struct.
	env.ReplicaName = os.Getenv("MINIDOTE_REPLICA")

	// MINIDOTE_PEERS lists the peer replicas as
	// comma-separated name=address pairs.
	peers := os.Getenv("MINIDOTE_PEERS")
	if peers == "" {
		return env, nil
	}

	for _, pair := range strings.Split(peers, ",") {

		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid peer entry %q in MINIDOTE_PEERS, want name=address", pair)
		}

		env.Peers[parts[0]] = parts[1]
	}

	return env, nil
}

// Apply folds the environment overrides into the
// supplied config.
func (env *Env) Apply(conf *Config) {

	if env.ReplicaName != "" {
		conf.Replica.Name = env.ReplicaName
	}

	for name, addr := range env.Peers {
		conf.Peers[name] = addr
	}
}
