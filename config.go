package transit

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AgencyConfig describes one transit agency's data sources. Which
// agency a request targets is the caller's choice; the engine only
// serves whichever it was built for.
type AgencyConfig struct {
	Key      string `yaml:"key" validate:"required"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone" validate:"required"`

	SnapshotURL    string `yaml:"snapshotURL" validate:"omitempty,url"`
	ArchiveURL     string `yaml:"archiveURL" validate:"omitempty,url"`
	TripUpdatesURL string `yaml:"tripUpdatesURL" validate:"omitempty,url"`
	AlertsURL      string `yaml:"alertsURL" validate:"omitempty,url"`

	// DSN of the external relational stop store. Optional; the
	// resolver falls back to the schedule index without it.
	StopsDSN string `yaml:"stopsDSN"`
}

type Config struct {
	ScratchDir string         `yaml:"scratchDir" validate:"required"`
	Agencies   []AgencyConfig `yaml:"agencies" validate:"required,min=1,dive"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}

	return &cfg, nil
}

func (c *Config) Agency(key string) (*AgencyConfig, bool) {
	for i := range c.Agencies {
		if c.Agencies[i].Key == key {
			return &c.Agencies[i], true
		}
	}
	return nil, false
}
