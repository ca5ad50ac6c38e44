package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joeycumines/hostbridge/internal/scripting"
)

// OptionType represents the expected type of a configuration option value.
type OptionType string

const (
	// TypeString is a plain string value (the default for all config values).
	TypeString OptionType = "string"
	// TypeBool is a boolean value (true/false/yes/no/1/0/on/off).
	TypeBool OptionType = "bool"
	// TypeInt is an integer value.
	TypeInt OptionType = "int"
	// TypePatternList is a whitespace separated list of type patterns.
	TypePatternList OptionType = "pattern-list"
	// TypeExpr is a boolean rule expression.
	TypeExpr OptionType = "expr"
)

// ConfigOption declares a single configuration option with its type, default,
// documentation, and environment variable override.
type ConfigOption struct {
	// Key is the option name as it appears in the config file.
	Key string
	// Type is the expected value type for validation.
	Type OptionType
	// Default is the default value as a string, or "" for no default.
	Default string
	// Description is a human-readable description of the option.
	Description string
	// Section is "" for global options, or a section name.
	Section string
	// EnvVar is the environment variable that overrides this option, or "".
	EnvVar string
}

// ConfigSchema declares the expected configuration options.
// It is used for validation, documentation, typed getters, and env var mapping.
type ConfigSchema struct {
	options []*ConfigOption
	// byKey indexes global options by key for fast lookup.
	byKey map[string]*ConfigOption
	// bySection indexes section options by section then key.
	bySection map[string]map[string]*ConfigOption
}

// NewSchema creates a new empty ConfigSchema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{
		byKey:     make(map[string]*ConfigOption),
		bySection: make(map[string]map[string]*ConfigOption),
	}
}

// Register adds a ConfigOption to the schema. Duplicate keys within the same
// section are silently overwritten (last registration wins).
func (s *ConfigSchema) Register(opt ConfigOption) {
	ref := new(ConfigOption)
	*ref = opt
	s.options = append(s.options, ref)
	if opt.Section == "" {
		s.byKey[opt.Key] = ref
	} else {
		if s.bySection[opt.Section] == nil {
			s.bySection[opt.Section] = make(map[string]*ConfigOption)
		}
		s.bySection[opt.Section][opt.Key] = ref
	}
}

// RegisterAll adds multiple ConfigOptions to the schema.
func (s *ConfigSchema) RegisterAll(opts []ConfigOption) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the ConfigOption for a key in a given section ("" for global).
// Returns nil if the key is not registered.
func (s *ConfigSchema) Lookup(section, key string) *ConfigOption {
	if section == "" {
		return s.byKey[key]
	}
	if sec, ok := s.bySection[section]; ok {
		return sec[key]
	}
	return nil
}

// SectionOptions returns all registered options for a specific section.
func (s *ConfigSchema) SectionOptions(section string) []ConfigOption {
	var out []ConfigOption
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, *o)
		}
	}
	return out
}

// Sections returns a sorted list of all registered non-empty section names.
func (s *ConfigSchema) Sections() []string {
	out := make([]string, 0, len(s.bySection))
	for sec := range s.bySection {
		out = append(out, sec)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the effective value for a global config key by checking,
// in order: (1) the environment variable declared in the schema for this key,
// (2) the config value, (3) the schema default. Returns "" if the key is not
// found anywhere.
func (s *ConfigSchema) Resolve(c *Config, key string) string {
	opt := s.Lookup("", key)
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := c.GetGlobalOption(key); ok {
		return v
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ValidateConfig checks a loaded Config against the schema and returns a list
// of human-readable issues (empty if the config is valid). Validation includes:
//   - Unknown global options (not in schema)
//   - Type mismatches for options with declared types
//   - Policy rules that do not compile
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string

	for key, value := range c.Global {
		opt := s.Lookup("", key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			continue
		}
		if err := validateType(opt.Type, value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}

	if _, err := c.Policy.Build(); err != nil {
		issues = append(issues, fmt.Sprintf("[policy]: %v", err))
	}

	sort.Strings(issues)
	return issues
}

// validateType checks that a string value matches the expected OptionType.
// Expressions are checked when the policy is built.
func validateType(t OptionType, value string) error {
	switch t {
	case TypeString, TypePatternList, TypeExpr, "":
		return nil
	case TypeBool:
		if _, err := parseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected int, got %q", value)
		}
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	return nil
}

// --- Typed getters ---

// GetBool returns the resolved value for key parsed as a boolean. Returns
// false if the value cannot be parsed.
func (s *ConfigSchema) GetBool(c *Config, key string) bool {
	b, err := parseBool(s.Resolve(c, key))
	if err != nil {
		return false
	}
	return b
}

// GetInt returns the resolved value for key parsed as an integer. Returns 0
// if the value cannot be parsed.
func (s *ConfigSchema) GetInt(c *Config, key string) int {
	i, err := strconv.Atoi(s.Resolve(c, key))
	if err != nil {
		return 0
	}
	return i
}

// Features resolves the bridge feature flags.
func (s *ConfigSchema) Features(c *Config) scripting.Features {
	var f scripting.Features
	for _, name := range []string{"mapAccess", "indicesFirst", "strictKeys"} {
		if !s.GetBool(c, name) {
			continue
		}
		if flag, err := scripting.ParseFeature(name); err == nil {
			f = f.With(flag, true)
		}
	}
	return f
}

// --- Help text generation ---

// FormatHelp returns a formatted, human-readable reference of all registered
// options in the schema, grouped by section.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder

	if globals := s.SectionOptions(""); len(globals) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range globals {
			writeOptionHelp(&b, o)
		}
	}

	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range s.SectionOptions(sec) {
			writeOptionHelp(&b, o)
		}
	}

	return b.String()
}

func writeOptionHelp(b *strings.Builder, o ConfigOption) {
	fmt.Fprintf(b, "  %-20s %s", o.Key, o.Description)
	parts := make([]string, 0, 3)
	if o.Type != "" && o.Type != TypeString {
		parts = append(parts, fmt.Sprintf("type: %s", o.Type))
	}
	if o.Default != "" {
		parts = append(parts, fmt.Sprintf("default: %s", o.Default))
	}
	if o.EnvVar != "" {
		parts = append(parts, fmt.Sprintf("env: %s", o.EnvVar))
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString("\n")
}

// DefaultSchema returns the schema declaring all known options.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		{Key: "mapAccess", Type: TypeBool, Default: "true", Description: "Expose host collections with map-style property access", EnvVar: "HOSTBRIDGE_MAP_ACCESS"},
		{Key: "indicesFirst", Type: TypeBool, Default: "false", Description: "Enumerate index-shaped keys before other keys", EnvVar: "HOSTBRIDGE_INDICES_FIRST"},
		{Key: "strictKeys", Type: TypeBool, Default: "false", Description: "Fail instead of warning on ambiguous keys", EnvVar: "HOSTBRIDGE_STRICT_KEYS"},
		{Key: "exprCacheSize", Type: TypeInt, Default: "256", Description: "Compiled policy rule cache size"},

		{Key: "denyType", Section: "policy", Type: TypePatternList, Description: "Types hidden from scripts"},
		{Key: "allowType", Section: "policy", Type: TypePatternList, Description: "If set, the only types visible to scripts"},
		{Key: "denyAccess", Section: "policy", Type: TypePatternList, Description: "Types refused directly but usable through ancestors"},
		{Key: "denyMember", Section: "policy", Type: TypePatternList, Description: "Members hidden from scripts, as Type.Member"},
		{Key: "minMembers", Section: "policy", Type: TypeInt, Default: "0", Description: "Members ancestor widening must find"},
		{Key: "visibleExpr", Section: "policy", Type: TypeExpr, Description: "Rule deciding type visibility"},
		{Key: "accessibleExpr", Section: "policy", Type: TypeExpr, Description: "Rule deciding direct type access"},
		{Key: "memberExpr", Section: "policy", Type: TypeExpr, Description: "Rule deciding member visibility"},
		{Key: "usableExpr", Section: "policy", Type: TypeExpr, Description: "Rule deciding whether widened members suffice"},
	})
	return s
}
