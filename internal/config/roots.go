package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// RootEntry is one record of the roots file.
type RootEntry struct {
	Key  string `yaml:"key"`
	Path string `yaml:"path"`
	Type string `yaml:"type"`
}

type rootsFile struct {
	Roots []RootEntry `yaml:"roots"`
}

// LoadRoots reads the ordered root records from a YAML file of the form:
//
//	roots:
//	  - key: pgroot
//	    path: /docs
//	    type: relational
func LoadRoots(path string) ([]RootEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roots file %s: %w", path, err)
	}
	return ParseRoots(bytes.NewReader(data))
}

// ParseRoots decodes root records from r. Unknown fields are rejected.
func ParseRoots(r io.Reader) ([]RootEntry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f rootsFile
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("roots file is empty")
		}
		return nil, fmt.Errorf("parse roots: %w", err)
	}
	if len(f.Roots) == 0 {
		return nil, fmt.Errorf("no roots configured")
	}
	return f.Roots, nil
}
