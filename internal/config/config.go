package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joeycumines/hostbridge/internal/capability"
)

// Config represents the bridge configuration.
type Config struct {
	// Global options
	Global map[string]string
	// Policy is the capability policy, parsed from the [policy] section.
	Policy PolicyConfig
	// Warnings contains any warnings generated during config loading
	Warnings []string
}

// NewConfig creates a new empty configuration.
func NewConfig() *Config {
	return &Config{
		Global:   make(map[string]string),
		Warnings: make([]string, 0),
	}
}

// PolicyConfig declares the capability policy. List options may be given
// more than once; each occurrence appends.
type PolicyConfig struct {
	DenyTypes   []string `json:"denyType,omitempty"`
	AllowTypes  []string `json:"allowType,omitempty"`
	DenyAccess  []string `json:"denyAccess,omitempty"`
	DenyMembers []string `json:"denyMember,omitempty"`
	MinMembers  int      `json:"minMembers,omitempty"`

	VisibleExpr    string `json:"visibleExpr,omitempty"`
	AccessibleExpr string `json:"accessibleExpr,omitempty"`
	MemberExpr     string `json:"memberExpr,omitempty"`
	UsableExpr     string `json:"usableExpr,omitempty"`
}

// IsZero reports whether no policy option was set.
func (p *PolicyConfig) IsZero() bool {
	return len(p.DenyTypes) == 0 && len(p.AllowTypes) == 0 &&
		len(p.DenyAccess) == 0 && len(p.DenyMembers) == 0 && p.MinMembers == 0 &&
		p.exprRules() == (capability.ExprRules{})
}

func (p *PolicyConfig) exprRules() capability.ExprRules {
	return capability.ExprRules{
		Visible:    p.VisibleExpr,
		Accessible: p.AccessibleExpr,
		Member:     p.MemberExpr,
		Usable:     p.UsableExpr,
	}
}

// Build compiles the policy. An empty section yields [capability.Permissive].
// Pattern and expression rules combine: a type or member must pass both.
// Options apply to the expression policy, if any.
func (p *PolicyConfig) Build(opts ...capability.ExprOption) (capability.Policy, error) {
	if p.IsZero() {
		return capability.Permissive{}, nil
	}
	patterns := &capability.PatternPolicy{
		AllowTypes:  p.AllowTypes,
		DenyTypes:   p.DenyTypes,
		DenyAccess:  p.DenyAccess,
		DenyMembers: p.DenyMembers,
		MinMembers:  p.MinMembers,
	}
	if err := patterns.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	rules := p.exprRules()
	if rules == (capability.ExprRules{}) {
		return patterns, nil
	}
	exprs, err := capability.NewExprPolicy(rules, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if len(p.DenyTypes)+len(p.AllowTypes)+len(p.DenyAccess)+len(p.DenyMembers) == 0 && p.MinMembers == 0 {
		return exprs, nil
	}
	return capability.All(patterns, exprs), nil
}

// Load loads configuration from the default config file path.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads configuration from the specified file path.
// The file uses dnsmasq-style format: optionName remainingLineIsTheValue
//
// Symlinks are rejected. A missing file yields an empty config.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}

	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadFromReader(file)
}

// LoadFromReader loads configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	config := NewConfig()
	scanner := bufio.NewScanner(r)

	var section string
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(strings.Trim(line, "[]"))
			if section != "policy" {
				config.addWarning("line %d: unknown section [%s]", lineNo, section)
			}
			continue
		}

		// Parse option line: optionName remainingLineIsTheValue
		optionName, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)

		switch section {
		case "":
			config.Global[optionName] = value
		case "policy":
			if err := parsePolicyOption(&config.Policy, optionName, value); err != nil {
				return nil, fmt.Errorf("line %d: invalid policy option %q: %w", lineNo, optionName, err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	for _, issue := range ValidateConfig(config, DefaultSchema()) {
		config.addWarning("%s", issue)
	}

	return config, nil
}

// addWarning adds a warning to the config's warnings list.
func (c *Config) addWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("[Config] " + msg)
}

// parsePolicyOption parses a [policy] option and updates the PolicyConfig.
// Supported options:
//   - denyType, allowType, denyAccess, denyMember <pattern>: appended to the list
//   - minMembers <int>: members ancestor widening must find (default: 0)
//   - visibleExpr, accessibleExpr, memberExpr, usableExpr <expr>: rule source
func parsePolicyOption(pc *PolicyConfig, name, value string) error {
	switch name {
	case "denyType":
		pc.DenyTypes = appendPattern(pc.DenyTypes, value)
	case "allowType":
		pc.AllowTypes = appendPattern(pc.AllowTypes, value)
	case "denyAccess":
		pc.DenyAccess = appendPattern(pc.DenyAccess, value)
	case "denyMember":
		pc.DenyMembers = appendPattern(pc.DenyMembers, value)
	case "minMembers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value %q: %w", value, err)
		}
		if n < 0 {
			return fmt.Errorf("minMembers cannot be negative: %d", n)
		}
		pc.MinMembers = n
	case "visibleExpr":
		pc.VisibleExpr = value
	case "accessibleExpr":
		pc.AccessibleExpr = value
	case "memberExpr":
		pc.MemberExpr = value
	case "usableExpr":
		pc.UsableExpr = value
	default:
		return fmt.Errorf("unknown policy option: %s", name)
	}
	return nil
}

// appendPattern appends each whitespace separated pattern in value.
func appendPattern(list []string, value string) []string {
	return append(list, strings.Fields(value)...)
}

// parseBool parses a boolean value from string.
// Accepts: true, false, 1, 0, yes, no, on, off (case-insensitive)
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}

// GetGlobalOption returns a global configuration option.
func (c *Config) GetGlobalOption(name string) (string, bool) {
	value, exists := c.Global[name]
	return value, exists
}

// SetGlobalOption sets a global configuration option.
func (c *Config) SetGlobalOption(name, value string) {
	c.Global[name] = value
}

// HasWarnings returns true if there are any warnings.
func (c *Config) HasWarnings() bool {
	return len(c.Warnings) > 0
}
