package profile

import (
	"errors"
	"fmt"
)

// API specs the gateway knows how to talk to.
const (
	SpecOpenAI = "openai"
	SpecAzure  = "azure"
)

// ErrInvalidModelConfig wraps every model-configuration validation failure so
// the coordinator can classify the attempt as a configuration error.
var ErrInvalidModelConfig = errors.New("invalid model configuration")

// ModelConfig describes one language-model provider entry. Endpoint is
// stored without a protocol prefix; the gateway reconstructs the HTTPS URL
// at send time.
type ModelConfig struct {
	// Name is the model name (openai) or deployment id (azure). Optional
	// for openai endpoints that default to a single model; required for
	// azure.
	Name       string `json:"name"`
	Endpoint   string `json:"endpoint"`
	APISpec    string `json:"apiSpec"` // "openai" | "azure"
	APIKey     string `json:"apiKey"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// Label is the derived unique key for a configuration: endpoint plus name.
func (m ModelConfig) Label() string {
	if m.Name == "" {
		return m.Endpoint
	}
	return m.Endpoint + "/" + m.Name
}

// Validate checks the configuration is complete enough to attempt a
// completion. All failures wrap ErrInvalidModelConfig.
func (m ModelConfig) Validate() error {
	switch m.APISpec {
	case SpecOpenAI, SpecAzure:
	default:
		return fmt.Errorf("%w: unknown api spec %q", ErrInvalidModelConfig, m.APISpec)
	}
	if m.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidModelConfig)
	}
	if m.APIKey == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalidModelConfig)
	}
	if m.APISpec == SpecAzure {
		if m.Name == "" {
			return fmt.Errorf("%w: azure requires a deployment name", ErrInvalidModelConfig)
		}
		if m.APIVersion == "" {
			return fmt.Errorf("%w: azure requires an api version", ErrInvalidModelConfig)
		}
	}
	return nil
}
