package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// Load reads the config file at path, resolving $include directives,
// applies the spec-mandated defaults, then layers environment variable
// overrides on top (spec §6).
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := loadRawRecursive(path, map[string]bool{})
		if err != nil {
			return nil, err
		}
		decoded, err := decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
		cfg = mergeDefaults(cfg, decoded)
	}
	applyEnvOverrides(cfg)
	if err := resolveSecrets(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeDefaults(defaults, decoded *Config) *Config {
	if decoded.Workspace != "" {
		defaults.Workspace = decoded.Workspace
	}
	if decoded.Provider.Dialect != "" {
		defaults.Provider = decoded.Provider
	}
	if decoded.Store.Path != "" {
		defaults.Store = decoded.Store
	}
	if decoded.Audit.Path != "" {
		defaults.Audit = decoded.Audit
	}
	if len(decoded.Policy.SensitivityOverrides) > 0 || decoded.Policy.ApprovalTimeout > 0 || len(decoded.Policy.AdminIdentities) > 0 {
		defaults.Policy = decoded.Policy
	}
	if len(decoded.Channels.Enabled) > 0 {
		defaults.Channels = decoded.Channels
	}
	if decoded.Limits.MaxIterations > 0 {
		defaults.Limits = decoded.Limits
	}
	if len(decoded.MCP.Servers) > 0 {
		defaults.MCP = decoded.MCP
	}
	return defaults
}

func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("config: include cycle detected at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))
	raw, err := parseRawBytes([]byte(expanded), absPath)
	if err != nil {
		return nil, err
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if len(includes) > 0 {
		baseDir := filepath.Dir(absPath)
		for _, inc := range includes {
			if strings.TrimSpace(inc) == "" {
				continue
			}
			incPath := inc
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(baseDir, incPath)
			}
			incRaw, err := loadRawRecursive(incPath, seen)
			if err != nil {
				return nil, err
			}
			merged = mergeMaps(merged, incRaw)
		}
	}
	return mergeMaps(merged, raw), nil
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(pathHint))
	if ext == ".json" || ext == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil && err != io.EOF {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	val, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)
	switch typed := val.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("config: include entries must be strings")
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("config: include must be a string or list of strings")
	}
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		if vm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeMaps(dm, vm)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: re-serialize: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies the spec §6 environment variables that override
// file values. Called after the file is decoded.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("GATEWAY_PROVIDER_DIALECT"); v != "" {
		cfg.Provider.Dialect = v
	}
	if v := os.Getenv("GATEWAY_PROVIDER_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("GATEWAY_PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("GATEWAY_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("GATEWAY_CHANNELS_ENABLED"); v != "" {
		cfg.Channels.Enabled = strings.Split(v, ",")
	}
	if v := os.Getenv("GATEWAY_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxIterations = n
		}
	}
}

func resolveSecrets(cfg *Config) error {
	apiKeyEnv := cfg.Provider.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = "ANTHROPIC_API_KEY"
	}
	cfg.Provider.apiKey = os.Getenv(apiKeyEnv)

	if cfg.Audit.EncryptionKeyEnv != "" {
		hexKey := os.Getenv(cfg.Audit.EncryptionKeyEnv)
		if hexKey != "" {
			key, err := hex.DecodeString(hexKey)
			if err != nil {
				return fmt.Errorf("config: decode %s: %w", cfg.Audit.EncryptionKeyEnv, err)
			}
			if len(key) != 32 {
				return fmt.Errorf("config: %s must decode to 32 bytes, got %d", cfg.Audit.EncryptionKeyEnv, len(key))
			}
			cfg.Audit.encryptionKey = key
		}
	}
	return nil
}
