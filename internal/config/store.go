// Package config loads per-domain directory sources and group policies
// from a viper-backed configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"

	"github.com/isometry/dirsync/internal/directory"
	"github.com/isometry/dirsync/internal/engine"
	"github.com/isometry/dirsync/internal/secret"
)

// SecretKeyEnv names the environment variable carrying the hex-encoded
// AES key used to decrypt proxy passwords stored in configuration.
const SecretKeyEnv = "DIRSYNC_SECRET_KEY"

// Domain is one domain's configuration block: its ordered directory
// sources plus its group policy.
type Domain struct {
	Sources []*directory.Config `mapstructure:"sources"`
	Groups  engine.GroupPolicy  `mapstructure:"groups"`
}

// FileStore implements the engine's configuration store over a single
// config file (yaml, toml or json, decided by extension). Domains are
// loaded once and served as immutable snapshots.
type FileStore struct {
	mu      sync.Mutex
	domains map[string]*Domain
}

// Load reads and validates the configuration file at path.
func Load(path string) (*FileStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return fromViper(v)
}

// FromViper builds a store from an already-populated viper instance,
// used by the CLI where flags and environment are merged in.
func FromViper(v *viper.Viper) (*FileStore, error) {
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*FileStore, error) {
	var raw struct {
		Domains map[string]*Domain `mapstructure:"domains"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(raw.Domains) == 0 {
		return nil, fmt.Errorf("config: no domains defined")
	}

	key, err := secretKey()
	if err != nil {
		return nil, err
	}

	for name, domain := range raw.Domains {
		if domain == nil || len(domain.Sources) == 0 {
			return nil, fmt.Errorf("config: domain %q has no directory sources", name)
		}
		for i, src := range domain.Sources {
			src.SecretKey = key
			if err := src.Normalize(); err != nil {
				return nil, fmt.Errorf("config: domain %q source %d: %w", name, i, err)
			}
			if src.ProxyPasswordEncrypted && len(key) == 0 {
				return nil, fmt.Errorf("config: domain %q source %d: encrypted proxy password requires %s", name, i, SecretKeyEnv)
			}
		}
		if err := defaults.Set(&domain.Groups); err != nil {
			return nil, fmt.Errorf("config: domain %q group policy defaults: %w", name, err)
		}
	}

	return &FileStore{domains: lowerKeys(raw.Domains)}, nil
}

// DirectoryConfigs returns the domain's sources in priority order.
func (s *FileStore) DirectoryConfigs(domain string) ([]*directory.Config, error) {
	d, err := s.domain(domain)
	if err != nil {
		return nil, err
	}
	return d.Sources, nil
}

// GroupPolicy returns the domain's group expansion and mapping policy.
func (s *FileStore) GroupPolicy(domain string) (*engine.GroupPolicy, error) {
	d, err := s.domain(domain)
	if err != nil {
		return nil, err
	}
	return &d.Groups, nil
}

// Domains lists the configured domain names.
func (s *FileStore) Domains() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.domains))
	for name := range s.domains {
		names = append(names, name)
	}
	return names
}

func (s *FileStore) domain(name string) (*Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("config: unknown domain %q", name)
	}
	return d, nil
}

func secretKey() ([]byte, error) {
	raw := os.Getenv(SecretKeyEnv)
	if raw == "" {
		return nil, nil
	}
	key, err := secret.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", SecretKeyEnv, err)
	}
	return key, nil
}

func lowerKeys(domains map[string]*Domain) map[string]*Domain {
	out := make(map[string]*Domain, len(domains))
	for name, d := range domains {
		out[strings.ToLower(name)] = d
	}
	return out
}
