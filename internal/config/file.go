package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile applies a YAML config file on top of cfg. Keys use the yaml
// tags of Config; unknown keys are an error. Durations are written as
// Go duration strings ("40s", "1m30s").
//
//	base_dir: /srv/minio_versions
//	data_dirs: [/mnt/d1, /mnt/d2, /mnt/d3, /mnt/d4]
//	bench_duration: 30s
//	concurrent: 64
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return Load(f, cfg)
}

// Load decodes YAML from r into cfg.
func Load(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
