package scripting

import (
	"fmt"
	"strings"
)

// Features is the set of optional bridge behaviors enabled for a context.
type Features uint32

const (
	// FeatureMapAccess exposes host collections through the script's
	// property, indexing and iteration protocol. Without it collections are
	// plain host objects.
	FeatureMapAccess Features = 1 << iota
	// FeatureEnumerateIndicesFirst orders enumerated collection keys with
	// index-shaped keys first, ascending, followed by string keys.
	FeatureEnumerateIndicesFirst
	// FeatureStrictKeys turns key ambiguity into an error.
	FeatureStrictKeys
)

// DefaultFeatures is the feature set of a context created without options.
const DefaultFeatures = FeatureMapAccess

var featureNames = []struct {
	f    Features
	name string
}{
	{FeatureMapAccess, "mapAccess"},
	{FeatureEnumerateIndicesFirst, "indicesFirst"},
	{FeatureStrictKeys, "strictKeys"},
}

// Has reports whether every feature in x is enabled.
func (f Features) Has(x Features) bool { return f&x == x }

// With returns f with x enabled or disabled.
func (f Features) With(x Features, enabled bool) Features {
	if enabled {
		return f | x
	}
	return f &^ x
}

// Names returns the names of the enabled features, as used in configuration.
func (f Features) Names() []string {
	var out []string
	for _, fn := range featureNames {
		if f.Has(fn.f) {
			out = append(out, fn.name)
		}
	}
	return out
}

func (f Features) String() string {
	return "[" + strings.Join(f.Names(), ",") + "]"
}

// ParseFeature resolves a feature by its configuration name.
func ParseFeature(name string) (Features, error) {
	for _, fn := range featureNames {
		if strings.EqualFold(fn.name, name) {
			return fn.f, nil
		}
	}
	return 0, fmt.Errorf("unknown feature %q", name)
}
