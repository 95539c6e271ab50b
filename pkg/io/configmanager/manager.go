package configmanager

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/apis/catalog/v1alpha1"
	"github.com/cheap-k8s/stageflow/pkg/envvar"
	"github.com/cheap-k8s/stageflow/pkg/utils/notify"
	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// DefaultConfigName is the catalog file name searched for when no file is given.
	DefaultConfigName = "stageflow"
	// EnvPrefix prefixes environment overrides (STAGEFLOW_SPEC_SYSTEMNAMESPACE).
	EnvPrefix = "STAGEFLOW"
)

// ErrCatalogNotFound is returned when no catalog file could be located.
var ErrCatalogNotFound = errors.New("catalog file not found")

// ErrInvalidCatalog is returned when the loaded catalog fails validation.
var ErrInvalidCatalog = errors.New("invalid catalog")

// ConfigManager loads and caches a v1alpha1.Catalog.
type ConfigManager struct {
	Viper      *viper.Viper
	Config     *v1alpha1.Catalog
	Writer     io.Writer
	configFile string
	expander   *envvar.Expander
	loaded     bool
}

// NewConfigManager creates a manager for the given catalog file. An empty
// path searches ./stageflow.yaml and $HOME/.config/stageflow/stageflow.yaml.
func NewConfigManager(writer io.Writer, configFile string) *ConfigManager {
	return &ConfigManager{
		Viper:      InitializeViper(configFile),
		Config:     v1alpha1.NewCatalog(),
		Writer:     writer,
		configFile: configFile,
		expander:   envvar.New(slog.Default()),
	}
}

// WithExpander replaces the placeholder expander (for testing).
func (m *ConfigManager) WithExpander(expander *envvar.Expander) *ConfigManager {
	m.expander = expander

	return m
}

// InitializeViper creates a Viper instance configured for catalog lookup and env overrides.
func InitializeViper(configFile string) *viper.Viper {
	viperInstance := viper.New()
	viperInstance.SetConfigType("yaml")

	if configFile != "" {
		viperInstance.SetConfigFile(configFile)
	} else {
		viperInstance.SetConfigName(DefaultConfigName)
		viperInstance.AddConfigPath(".")
		viperInstance.AddConfigPath("$HOME/.config/stageflow")
	}

	viperInstance.SetEnvPrefix(EnvPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	return viperInstance
}

// Load reads, decodes, defaults, expands and validates the catalog.
// A previously loaded catalog is returned as-is.
func (m *ConfigManager) Load() (*v1alpha1.Catalog, error) {
	return m.load(false)
}

// LoadSilent loads the catalog without emitting notifications.
func (m *ConfigManager) LoadSilent() (*v1alpha1.Catalog, error) {
	return m.load(true)
}

// Reload discards the cached catalog and reads the file again. It is used
// when the catalog file changes while the orchestrator runs.
func (m *ConfigManager) Reload() (*v1alpha1.Catalog, error) {
	m.Viper = InitializeViper(m.configFile)
	m.Config = v1alpha1.NewCatalog()
	m.loaded = false

	return m.load(true)
}

// ConfigFileUsed returns the path of the catalog file that was read.
func (m *ConfigManager) ConfigFileUsed() string {
	return m.Viper.ConfigFileUsed()
}

func (m *ConfigManager) load(silent bool) (*v1alpha1.Catalog, error) {
	if m.loaded {
		return m.Config, nil
	}

	if !silent {
		notify.Activityf(m.Writer, "loading catalog")
	}

	err := m.Viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrCatalogNotFound, err)
		}

		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	catalog := &v1alpha1.Catalog{}

	err = m.Viper.Unmarshal(catalog, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			metav1DurationDecodeHook(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}

	catalog.SetDefaults()
	m.expandPlaceholders(catalog)

	err = catalog.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	m.Config = catalog
	m.loaded = true

	if !silent {
		notify.Successf(
			m.Writer,
			"catalog loaded from %s (%d repositories)",
			m.Viper.ConfigFileUsed(),
			len(catalog.Spec.Repositories),
		)
	}

	return m.Config, nil
}

func (m *ConfigManager) expandPlaceholders(catalog *v1alpha1.Catalog) {
	for i := range catalog.Spec.Repositories {
		repo := &catalog.Spec.Repositories[i]
		repo.URL = m.expander.Expand(repo.URL)
		repo.Branch = m.expander.Expand(repo.Branch)
		repo.Credential.Username = m.expander.Expand(repo.Credential.Username)
		repo.Credential.Password = m.expander.Expand(repo.Credential.Password)
	}
}

// metav1DurationDecodeHook decodes Go duration strings and integers
// (nanoseconds) into metav1.Duration fields.
func metav1DurationDecodeHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeFor[metav1.Duration]()

	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}

		switch value := data.(type) {
		case string:
			if value == "" {
				return metav1.Duration{}, nil
			}

			parsed, err := time.ParseDuration(value)
			if err != nil {
				return nil, fmt.Errorf("parse duration %q: %w", value, err)
			}

			return metav1.Duration{Duration: parsed}, nil
		case int:
			return metav1.Duration{Duration: time.Duration(value)}, nil
		case int64:
			return metav1.Duration{Duration: time.Duration(value)}, nil
		case time.Duration:
			return metav1.Duration{Duration: value}, nil
		default:
			return data, nil
		}
	}
}
