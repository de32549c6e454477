// Package prompt holds the versioned stage prompts. Built-in prompts are
// registered at init; files in the prompts directory add newer versions that
// win when a stage asks for a prompt by bare name.
package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Spec is a versioned prompt. System is sent as the system prompt and User
// is the template of the final user message.
type Spec struct {
	Name        string   `json:"name" yaml:"name"`
	Version     string   `json:"version,omitempty" yaml:"version,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	System      string   `json:"system" yaml:"system"`
	User        string   `json:"user,omitempty" yaml:"user,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Source is "builtin" or the file the prompt was loaded from.
	Source string `json:"-" yaml:"-"`
}

// Ref is the name@version form accepted by Get.
func (s Spec) Ref() string { return s.Name + "@" + s.Version }

// Registry keeps every version of every prompt, each name's versions sorted
// oldest first.
type Registry struct {
	mu    sync.RWMutex
	items map[string][]Spec
}

func NewRegistry() *Registry {
	return &Registry{items: map[string][]Spec{}}
}

var global = NewRegistry()

func Register(spec Spec) error { return global.Register(spec) }

func MustRegister(spec Spec) {
	if err := Register(spec); err != nil {
		panic(err)
	}
}

func Resolve(ref string) (Spec, bool) { return global.Resolve(ref) }
func List() []Spec                    { return global.List() }
func Delete(ref string) bool          { return global.Delete(ref) }

// Get resolves ref in the global registry.
func Get(ref string) (Spec, error) {
	spec, ok := Resolve(ref)
	if !ok {
		return Spec{}, fmt.Errorf("prompt %q is not registered", ref)
	}
	return spec, nil
}

// Register adds spec or replaces the same name and version. A spec without a
// user template inherits the one of the newest registered version.
func (r *Registry) Register(spec Spec) error {
	spec, err := NormalizeSpec(spec)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.items[spec.Name]
	if spec.User == "" {
		for i := len(versions) - 1; i >= 0; i-- {
			if versions[i].User != "" {
				spec.User = versions[i].User
				break
			}
		}
	}
	i := sort.Search(len(versions), func(i int) bool {
		return compareVersions(versions[i].Version, spec.Version) >= 0
	})
	if i < len(versions) && versions[i].Version == spec.Version {
		versions[i] = spec
	} else {
		versions = append(versions, Spec{})
		copy(versions[i+1:], versions[i:])
		versions[i] = spec
	}
	r.items[spec.Name] = versions
	return nil
}

// Resolve returns the exact version for name@version and the newest version
// for a bare name.
func (r *Registry) Resolve(ref string) (Spec, bool) {
	name, version := parseRef(ref)
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.items[name]
	if len(versions) == 0 {
		return Spec{}, false
	}
	if version == "" {
		return versions[len(versions)-1], true
	}
	for _, s := range versions {
		if s.Version == version {
			return s, true
		}
	}
	return Spec{}, false
}

// List returns every registered version ordered by name, then version.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []Spec
	for _, name := range names {
		out = append(out, r.items[name]...)
	}
	return out
}

// Delete removes one version, or every version for a bare name.
func (r *Registry) Delete(ref string) bool {
	name, version := parseRef(ref)
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.items[name]
	if !ok {
		return false
	}
	if version == "" {
		delete(r.items, name)
		return true
	}
	for i, s := range versions {
		if s.Version != version {
			continue
		}
		versions = append(versions[:i], versions[i+1:]...)
		if len(versions) == 0 {
			delete(r.items, name)
		} else {
			r.items[name] = versions
		}
		return true
	}
	return false
}

var identPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)

// NormalizeSpec trims and lowercases the identifiers, defaults the version
// to v1 and checks that the templates parse.
func NormalizeSpec(spec Spec) (Spec, error) {
	spec.Name = strings.ToLower(strings.TrimSpace(spec.Name))
	spec.Version = strings.ToLower(strings.TrimSpace(spec.Version))
	spec.Description = strings.TrimSpace(spec.Description)
	spec.System = strings.TrimSpace(spec.System)
	spec.User = strings.TrimSpace(spec.User)
	if spec.Version == "" {
		spec.Version = "v1"
	}
	switch {
	case spec.Name == "":
		return Spec{}, fmt.Errorf("prompt name is required")
	case !identPattern.MatchString(spec.Name):
		return Spec{}, fmt.Errorf("prompt name %q must match [a-z0-9._-]", spec.Name)
	case !identPattern.MatchString(spec.Version):
		return Spec{}, fmt.Errorf("prompt version %q must match [a-z0-9._-]", spec.Version)
	case spec.System == "":
		return Spec{}, fmt.Errorf("prompt %q has empty system text", spec.Name)
	case spec.Temperature != nil && (*spec.Temperature < 0 || *spec.Temperature > 2):
		return Spec{}, fmt.Errorf("prompt %q temperature must be within [0, 2]", spec.Name)
	}
	if spec.User != "" {
		if _, err := Parse(spec.User); err != nil {
			return Spec{}, fmt.Errorf("prompt %q: %w", spec.Ref(), err)
		}
	}
	return spec, nil
}

func parseRef(ref string) (name, version string) {
	name, version, _ = strings.Cut(strings.ToLower(strings.TrimSpace(ref)), "@")
	return strings.TrimSpace(name), strings.TrimSpace(version)
}

// compareVersions orders versions by their dot separated segments, numeric
// segments by value, so v10 sorts after v9. A leading "v" is ignored.
func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aErr := strconv.Atoi(as[i])
		bn, bErr := strconv.Atoi(bs[i])
		switch {
		case aErr == nil && bErr == nil:
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
		case as[i] != bs[i]:
			return strings.Compare(as[i], bs[i])
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}
