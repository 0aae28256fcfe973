package llm

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Reserved option keys consumed by the resolver instead of being passed to the provider.
const (
	OptionDefaultRole = "default_role"
	OptionBaseURL     = "base_url"
	OptionAPIKey      = "api_key"
	OptionHeaders     = "headers"
)

const envPrefix = "env."

// ClientConfig is the declarative configuration of one client. It is not
// modified after construction.
type ClientConfig struct {
	Name        string
	Provider    string
	Options     map[string]any
	RetryPolicy string
}

// RuntimeContext is what a call has to resolve option expressions with.
type RuntimeContext struct {
	Env map[string]string

	// Resolve overrides expression resolution. When nil, ResolveExpression
	// handles "env.NAME" references and literals.
	Resolve func(expr any) (any, error)
}

// NewRuntimeContext creates a context over an environment snapshot.
func NewRuntimeContext(env map[string]string) *RuntimeContext {
	return &RuntimeContext{Env: env}
}

// ResolveExpression resolves a raw option value. Strings of the form
// "env.NAME" are replaced by the environment variable NAME, which must be set.
// Maps and lists are resolved element-wise.
func (c *RuntimeContext) ResolveExpression(expr any) (any, error) {
	if c.Resolve != nil {
		return c.Resolve(expr)
	}
	switch v := expr.(type) {
	case string:
		if name, ok := strings.CutPrefix(v, envPrefix); ok && name != "" {
			value, found := c.Env[name]
			if !found {
				return nil, fmt.Errorf("environment variable %s is not set", name)
			}
			return value, nil
		}
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for _, k := range sortedKeys(v) {
			resolved, err := c.ResolveExpression(v[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := c.ResolveExpression(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ProviderDefaults are the values a provider falls back to when options omit them.
type ProviderDefaults struct {
	BaseURL   string
	APIKeyEnv string

	// DefaultRole replaces RoleSystem as the default role when set.
	DefaultRole string
}

// ResolvedProperties are the concrete connection parameters of a client.
type ResolvedProperties struct {
	DefaultRole string
	BaseURL     string
	// APIKey is empty when no credential was configured or found in the environment.
	APIKey  string
	Headers map[string]string
	// Properties are passed verbatim into the provider request body.
	Properties map[string]any
}

// ResolveProperties resolves every option of cfg through rctx and applies the
// provider defaults for the reserved options.
func ResolveProperties(cfg ClientConfig, rctx *RuntimeContext, defaults ProviderDefaults) (*ResolvedProperties, error) {
	if rctx == nil {
		rctx = NewRuntimeContext(nil)
	}

	properties := make(map[string]any, len(cfg.Options))
	for _, key := range sortedKeys(cfg.Options) {
		value, err := rctx.ResolveExpression(cfg.Options[key])
		if err != nil {
			return nil, &PropertyError{Client: cfg.Name, Option: key, Err: err}
		}
		properties[key] = value
	}

	resolved := &ResolvedProperties{
		DefaultRole: RoleSystem,
		BaseURL:     defaults.BaseURL,
		Headers:     map[string]string{},
	}
	if defaults.DefaultRole != "" {
		resolved.DefaultRole = defaults.DefaultRole
	}

	if role, ok := takeString(properties, OptionDefaultRole); ok {
		resolved.DefaultRole = role
	}
	if baseURL, ok := takeString(properties, OptionBaseURL); ok {
		resolved.BaseURL = baseURL
	}
	resolved.BaseURL = strings.TrimSuffix(resolved.BaseURL, "/")

	if key, ok := takeString(properties, OptionAPIKey); ok {
		resolved.APIKey = key
	} else if defaults.APIKeyEnv != "" {
		resolved.APIKey = rctx.Env[defaults.APIKeyEnv]
	}

	if raw, ok := properties[OptionHeaders]; ok {
		delete(properties, OptionHeaders)
		headers, err := resolveHeaders(raw)
		if err != nil {
			return nil, &PropertyError{Client: cfg.Name, Option: OptionHeaders, Err: err}
		}
		resolved.Headers = headers
	}

	resolved.Properties = properties
	return resolved, nil
}

// CloneProperties returns a shallow copy of the pass-through properties, so a
// request body can be built without touching the resolved set.
func (p *ResolvedProperties) CloneProperties() map[string]any {
	if p.Properties == nil {
		return map[string]any{}
	}
	return maps.Clone(p.Properties)
}

func resolveHeaders(raw any) (map[string]string, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("headers must be an object, got %T", raw)
	}
	headers := make(map[string]string, len(obj))
	for _, k := range sortedKeys(obj) {
		s, ok := obj[k].(string)
		if !ok {
			return nil, fmt.Errorf("Header '%s' must be a string", k)
		}
		headers[k] = s
	}
	return headers, nil
}

// takeString removes key from m and returns its value if it is a string.
// A non-string value is removed and ignored.
func takeString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	delete(m, key)
	s, ok := v.(string)
	return s, ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
