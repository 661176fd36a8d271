package server

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"dicomcore/pkg/domain"
)

// Config carries the tunables of a ServerIndex. The zero value disables
// every limit, keeps incoming files uncompressed and uses the 60 second
// stability window.
type Config struct {
	// MaximumStorageSize bounds the total compressed bytes held by the
	// storage area. 0 disables the bound.
	MaximumStorageSize uint64

	// MaximumPatientCount bounds the number of patients in the index.
	// 0 disables the bound.
	MaximumPatientCount uint64

	// OverwriteInstances replaces an already stored instance instead of
	// reporting it as a duplicate.
	OverwriteInstances bool

	// Compression applied to incoming attachments.
	Compression domain.CompressionType

	// StableAge is how long a resource must go without new child instances
	// before it is promoted to stable.
	StableAge time.Duration

	// StabilityInterval is the polling period of the stability monitor.
	StabilityInterval time.Duration

	// FlushInterval drives the periodic durability barrier on the index
	// database. 0 disables the flusher.
	FlushInterval time.Duration

	// StoreMD5 computes MD5 digests of incoming attachments.
	StoreMD5 bool
}

const (
	defaultStableAge         = 60 * time.Second
	defaultStabilityInterval = 200 * time.Millisecond
	defaultFlushInterval     = 10 * time.Second
)

func (c *Config) applyDefaults() {
	if c.StableAge <= 0 {
		c.StableAge = defaultStableAge
	}
	if c.StabilityInterval <= 0 {
		c.StabilityInterval = defaultStabilityInterval
	}
	if c.Compression == 0 {
		c.Compression = domain.CompressionNone
	}
}

// ConfigFromEnv reads the tunables from DICOMCORE_* variables, falling back
// to the defaults of the zero Config.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		StoreMD5:      true,
		FlushInterval: defaultFlushInterval,
	}
	var err error
	if cfg.MaximumStorageSize, err = envUint("DICOMCORE_MAXIMUM_STORAGE_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MaximumPatientCount, err = envUint("DICOMCORE_MAXIMUM_PATIENT_COUNT"); err != nil {
		return cfg, err
	}
	if v := os.Getenv("DICOMCORE_OVERWRITE_INSTANCES"); v != "" {
		if cfg.OverwriteInstances, err = strconv.ParseBool(v); err != nil {
			return cfg, fmt.Errorf("parse DICOMCORE_OVERWRITE_INSTANCES: %w", err)
		}
	}
	if v := os.Getenv("DICOMCORE_STORAGE_COMPRESSION"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("parse DICOMCORE_STORAGE_COMPRESSION: %w", err)
		}
		if enabled {
			cfg.Compression = domain.CompressionZlibWithSize
		}
	}
	if v := os.Getenv("DICOMCORE_STABLE_AGE"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 0 {
			return cfg, fmt.Errorf("parse DICOMCORE_STABLE_AGE: %q", v)
		}
		cfg.StableAge = time.Duration(seconds) * time.Second
	}
	cfg.applyDefaults()
	return cfg, nil
}

func envUint(name string) (uint64, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return parsed, nil
}
