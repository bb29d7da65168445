package schema

import (
	"encoding/json"
	"io"
	"os"

	"data-engine/internal/common/errors"
)

// Load decodes a JSON schema description from r. Unknown keys are rejected
// so a typo in a schema file fails loudly instead of silently dropping
// configuration.
func Load(r io.Reader) (*Description, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	var desc Description
	if err := decoder.Decode(&desc); err != nil {
		return nil, errors.ConfigurationError("failed to decode schema description").WithContext("detail", err.Error())
	}
	return &desc, nil
}

// LoadFile reads and decodes a schema description from disk
func LoadFile(path string) (*Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.ConfigurationErrorf("failed to open schema file %q: %v", path, err)
	}
	defer f.Close()
	return Load(f)
}

// LoadRegistry is the common startup path: read a schema file and build
// the registry from it in one call.
func LoadRegistry(path string) (*Registry, error) {
	desc, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(desc)
}
