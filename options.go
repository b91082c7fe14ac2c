package chassis

import "fmt"

// maxLayers is the per-file layer cap. It is fixed in the default file
// format (spec §9: "max_layers is fixed at 16 ... overriding requires a
// new file") and is not exposed as an Option.
const maxLayers = 16

const (
	defaultM              = 16
	defaultEfConstruction = 200
	defaultEfSearch       = 50
)

// Config holds the build parameters a Handle is opened with. M, fixed at
// file-creation time, also fixes M0 = 2*M and record_size for the life of
// the file; reopening with a different M fails as ErrCorruption.
type Config struct {
	M              uint16
	EfConstruction int
	EfSearch       int
}

func defaultConfig() Config {
	return Config{
		M:              defaultM,
		EfConstruction: defaultEfConstruction,
		EfSearch:       defaultEfSearch,
	}
}

func (c *Config) validate() error {
	if c.M == 0 {
		return fmt.Errorf("M must be positive")
	}
	if c.EfConstruction <= 0 {
		return fmt.Errorf("EfConstruction must be positive")
	}
	if c.EfSearch <= 0 {
		return fmt.Errorf("EfSearch must be positive")
	}
	return nil
}

// Option configures a Handle at Open time.
type Option func(*Config) error

// WithM sets the maximum bidirectional links per node at layers above 0
// (layer 0 gets 2*M). Only meaningful the first time a file is created;
// ignored validation-wise on reopen beyond the existing-file match check
// performed by the graph layer itself.
func WithM(m uint16) Option {
	return func(c *Config) error {
		if m == 0 {
			return fmt.Errorf("M must be positive")
		}
		c.M = m
		return nil
	}
}

// WithEfConstruction sets the size of the dynamic candidate list used
// while building each new node's neighbor lists.
func WithEfConstruction(ef int) Option {
	return func(c *Config) error {
		if ef <= 0 {
			return fmt.Errorf("EfConstruction must be positive")
		}
		c.EfConstruction = ef
		return nil
	}
}

// WithEfSearch sets the default size of the dynamic candidate list used
// by Search. Search silently raises ef to at least k if k is larger.
func WithEfSearch(ef int) Option {
	return func(c *Config) error {
		if ef <= 0 {
			return fmt.Errorf("EfSearch must be positive")
		}
		c.EfSearch = ef
		return nil
	}
}
