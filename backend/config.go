package backend

import (
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// AutoplayMode controls whether a newly selected playback source is started
// automatically after a source change.
type AutoplayMode string

const (
	// AutoplayNever never starts playback on a source change.
	AutoplayNever AutoplayMode = "Never"
	// AutoplayAlways always starts playback on a source change.
	AutoplayAlways AutoplayMode = "Always"
	// AutoplayRetainPerSource starts playback if the newly selected
	// source was playing the last time it was the playback source.
	AutoplayRetainPerSource AutoplayMode = "RetainPerSource"
	// AutoplayRetainPrevious starts playback if the previous source was
	// playing at the moment of the change.
	AutoplayRetainPrevious AutoplayMode = "RetainPrevious"
)

type CoordinatorConfig struct {
	// Autoplay is one of the AutoplayMode values.
	Autoplay string
	// DefaultSource is the platform default media source in
	// "package/class" form, used when nothing valid is persisted.
	DefaultSource string
	// IndependentPlayback is the default per-user coupling of the
	// playback and browse sources; false couples them.
	IndependentPlayback bool
}

type StorageConfig struct {
	// DatabaseFile is the path of the persistent key-value store.
	DatabaseFile string
	// ComponentsDir is the directory of installed package manifests.
	ComponentsDir string
}

type LoggingConfig struct {
	Level string
}

type Config struct {
	Coordinator CoordinatorConfig
	Storage     StorageConfig
	Logging     LoggingConfig
}

func DefaultConfig() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			Autoplay:            string(AutoplayNever),
			IndependentPlayback: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func ReadConfigFile(filepath string) (*Config, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := DefaultConfig()
	if err := toml.NewDecoder(f).Decode(c); err != nil {
		return nil, err
	}
	return c, nil
}

var writeLock sync.Mutex

func (c *Config) WriteConfigFile(filepath string) error {
	if !writeLock.TryLock() {
		return nil // another write in progress
	}
	defer writeLock.Unlock()

	b, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, b, 0644)
}
