package descriptor

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tombee/libretto/internal/secrets"
)

// ParseDefinition parses a YAML client definition, expands ${VAR}
// references in non-credential string fields, and compiles the result.
// Auth credential fields are left untouched; they resolve through the
// secrets chain when the strategy is constructed.
func ParseDefinition(data []byte) (*ClientDescriptor, error) {
	var desc ClientDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse client definition: %w", err)
	}

	if err := expandEnvFields(&desc); err != nil {
		return nil, err
	}

	if _, err := desc.Compile(); err != nil {
		return nil, fmt.Errorf("invalid client definition: %w", err)
	}

	return &desc, nil
}

// expandEnvFields runs one expansion pass over the definition's plain
// string fields: base URLs, session headers/cookies, and the proxy.
// Expanded text is never re-expanded.
func expandEnvFields(desc *ClientDescriptor) error {
	var err error
	if desc.BaseURL, err = expandString(desc.BaseURL); err != nil {
		return err
	}

	if s := desc.Session; s != nil {
		if s.Proxy, err = expandString(s.Proxy); err != nil {
			return err
		}
		if err = expandStringMap(s.Headers); err != nil {
			return err
		}
		if err = expandStringMap(s.Cookies); err != nil {
			return err
		}
	}

	var walk func(resources []*ResourceDescriptor) error
	walk = func(resources []*ResourceDescriptor) error {
		for _, r := range resources {
			var werr error
			if r.BaseURL, werr = expandString(r.BaseURL); werr != nil {
				return werr
			}
			if werr = walk(r.Resources); werr != nil {
				return werr
			}
		}
		return nil
	}
	return walk(desc.Resources)
}

func expandString(s string) (string, error) {
	if !secrets.HasEnvRef(s) {
		return s, nil
	}
	return secrets.ExpandEnv(s)
}

func expandStringMap(m map[string]string) error {
	for k, v := range m {
		expanded, err := expandString(v)
		if err != nil {
			return err
		}
		m[k] = expanded
	}
	return nil
}
