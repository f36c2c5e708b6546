package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/upb/provider-orchestrator/services/providers"
)

// ProviderCatalog is the YAML document listing every upstream provider
type ProviderCatalog struct {
	Providers []ProviderEntry `yaml:"providers"`
}

// ProviderEntry is one provider of the catalog. Credentials are never stored in
// the file; CredentialRef names the environment variable holding them.
type ProviderEntry struct {
	ID                  string   `yaml:"id"`
	Name                string   `yaml:"name"`
	Type                string   `yaml:"type"`
	Endpoint            string   `yaml:"endpoint"`
	CredentialRef       string   `yaml:"credential_ref"`
	Models              []string `yaml:"models"`
	CostPerToken        float64  `yaml:"cost_per_token"`
	MaxTokensPerRequest int      `yaml:"max_tokens_per_request"`
	Priority            int      `yaml:"priority"`
	FallbackOrder       int      `yaml:"fallback_order"`
	Active              *bool    `yaml:"active"`
}

// LoadedProviders is the result of resolving a catalog
type LoadedProviders struct {
	Providers []providers.Provider

	// Unresolved lists credential references with no value in the environment
	Unresolved []string
}

// LoadProviders reads and resolves the catalog at path
func LoadProviders(path string) (*LoadedProviders, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	return ParseProviders(data, os.LookupEnv)
}

// ParseProviders decodes a catalog and resolves credential references with lookup.
// Entries without an explicit active flag are active.
func ParseProviders(data []byte, lookup func(string) (string, bool)) (*LoadedProviders, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var catalog ProviderCatalog
	if err := dec.Decode(&catalog); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}
	if len(catalog.Providers) == 0 {
		return nil, errors.New("providers file lists no providers")
	}

	loaded := &LoadedProviders{Providers: make([]providers.Provider, 0, len(catalog.Providers))}
	for _, e := range catalog.Providers {
		p := providers.Provider{
			ID:                  e.ID,
			Name:                e.Name,
			Type:                e.Type,
			Endpoint:            e.Endpoint,
			CredentialRef:       e.CredentialRef,
			Models:              e.Models,
			CostPerToken:        e.CostPerToken,
			MaxTokensPerRequest: e.MaxTokensPerRequest,
			Priority:            e.Priority,
			FallbackOrder:       e.FallbackOrder,
			Active:              e.Active == nil || *e.Active,
		}

		if e.CredentialRef != "" {
			if value, ok := lookup(e.CredentialRef); ok && value != "" {
				p.Credential = value
			} else {
				loaded.Unresolved = append(loaded.Unresolved, e.CredentialRef)
			}
		}

		if err := p.Validate(); err != nil {
			return nil, err
		}
		loaded.Providers = append(loaded.Providers, p)
	}

	return loaded, nil
}
