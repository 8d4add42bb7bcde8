package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/vine/pkg/models"
)

// chainFile is the on-disk layout: either a single chain or a "chains" list
type chainFile struct {
	Chains []*models.ChainConfiguration `json:"chains" yaml:"chains"`
}

// LoadFile reads chain definitions from a YAML or JSON file into a memory store.
// Every chain is validated.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain file: %w", err)
	}

	chains, err := ParseChains(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return NewMemory(chains...), nil
}

// ParseChains decodes chain definitions. ext selects JSON for ".json" and YAML otherwise.
func ParseChains(data []byte, ext string) ([]*models.ChainConfiguration, error) {
	var raw any
	if strings.EqualFold(ext, ".json") {
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		if err := decoder.Decode(&raw); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	// Route both formats through JSON so nested values share one representation
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	var file chainFile
	if err := json.Unmarshal(normalized, &file); err != nil {
		return nil, err
	}
	if file.Chains == nil {
		var single models.ChainConfiguration
		if err := json.Unmarshal(normalized, &single); err != nil {
			return nil, err
		}
		file.Chains = []*models.ChainConfiguration{&single}
	}

	seen := make(map[string]struct{}, len(file.Chains))
	for _, chain := range file.Chains {
		if err := chain.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[chain.ID]; dup {
			return nil, fmt.Errorf("duplicate chain id %q", chain.ID)
		}
		seen[chain.ID] = struct{}{}
	}

	return file.Chains, nil
}
