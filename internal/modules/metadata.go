package modules

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultEntryFile is the module entry file used when module.toml does not
// name one.
const DefaultEntryFile = "main.wr"

// Metadata describes a module's optional module.toml.
type Metadata struct {
	Name        string `toml:"name,omitempty"`
	Entry       string `toml:"entry,omitempty"`
	Description string `toml:"description,omitempty"`
}

// LoadMetadata reads module.toml from a module directory. A missing file
// yields defaults; a malformed file is an error.
func LoadMetadata(dir string) (Metadata, error) {
	meta := Metadata{Entry: DefaultEntryFile}

	path := filepath.Join(dir, "module.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("reading module.toml: %w", err)
	}

	if _, err := toml.Decode(string(data), &meta); err != nil {
		return meta, fmt.Errorf("parsing module.toml: %w", err)
	}
	if meta.Entry == "" {
		meta.Entry = DefaultEntryFile
	}
	return meta, nil
}
