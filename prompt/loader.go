package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir registers every prompt file in dir and returns how many prompts
// were added. JSON files hold one prompt; YAML files may hold several
// documents. A missing directory loads nothing.
//
// A file named name@version.ext supplies the name and version when the
// document leaves them out.
func LoadDir(dir string) (int, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read prompt dir %q: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		specs, err := LoadFile(path)
		if errors.Is(err, errUnsupportedFile) {
			continue
		}
		if err != nil {
			return loaded, err
		}
		for _, spec := range specs {
			if err := Register(spec); err != nil {
				return loaded, fmt.Errorf("register %s: %w", path, err)
			}
			loaded++
		}
	}
	return loaded, nil
}

var errUnsupportedFile = errors.New("unsupported prompt file")

// LoadFile decodes the prompts in path without registering them.
func LoadFile(path string) ([]Spec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, errUnsupportedFile
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %q: %w", path, err)
	}

	var specs []Spec
	if ext == ".json" {
		var spec Spec
		if err := json.Unmarshal(content, &spec); err != nil {
			return nil, fmt.Errorf("decode prompt file %q: %w", path, err)
		}
		specs = append(specs, spec)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(content))
		for {
			var spec Spec
			err := dec.Decode(&spec)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("decode prompt file %q: %w", path, err)
			}
			specs = append(specs, spec)
		}
	}

	name, version := parseRef(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	for i := range specs {
		if strings.TrimSpace(specs[i].Name) == "" {
			specs[i].Name = name
		}
		if strings.TrimSpace(specs[i].Version) == "" {
			specs[i].Version = version
		}
		specs[i].Source = path
	}
	return specs, nil
}
