package config

import (
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// RedactedYAML renders the configuration as YAML with the same masking rules as Redacted.
func (c *Config) RedactedYAML(secrets *Config) ([]byte, error) {
	settings, err := toSettings(c)
	if err != nil {
		return nil, err
	}
	var mask map[string]any
	if secrets != nil {
		if mask, err = toSettings(secrets); err != nil {
			return nil, err
		}
	}
	out, err := yaml.Marshal(redactSettings(settings, mask))
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

// YAML renders the configuration as YAML without masking.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

func toSettings(cfg *Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	settings := map[string]any{}
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("unmarshal config settings: %w", err)
	}
	return settings, nil
}

func redactSettings(settings, mask map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for key, value := range settings {
		childMask := mask[key]
		if nested, ok := value.(map[string]any); ok {
			nestedMask, _ := childMask.(map[string]any)
			out[key] = redactSettings(nested, nestedMask)
			continue
		}
		if settingIsSet(value) && (sensitiveFields[key] || settingIsSet(childMask) || (key == "url" && hasUserInfo(fmt.Sprint(value)))) {
			out[key] = "***"
			continue
		}
		out[key] = value
	}
	return out
}

// settingIsSet treats zero durations, rendered as "0s", as unset.
func settingIsSet(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != "" && v != "0s"
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return !reflect.ValueOf(v).IsZero()
	}
}
