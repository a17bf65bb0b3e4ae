package stores

import (
	"image"
	"strings"
)

const (
	// GenericGrocery is returned when only generic supermarket keywords match
	GenericGrocery = "generic_grocery"
	// Unknown is returned when nothing matches
	Unknown = "unknown"

	// HeaderFraction is the share of the image height searched for the store name
	HeaderFraction = 0.3
)

var genericKeywords = []string{"supermarket", "super market", "grocery", "groceries", "wholesale", "food store", "market"}

// Registry is the ordered, immutable set of store profiles
type Registry struct {
	profiles []Profile
	byID     map[string]*Profile
}

// NewRegistry builds a registry; detection precedence follows slice order
func NewRegistry(profiles []Profile) *Registry {
	r := &Registry{
		profiles: append([]Profile(nil), profiles...),
		byID:     make(map[string]*Profile, len(profiles)),
	}
	for i := range r.profiles {
		r.byID[r.profiles[i].ID] = &r.profiles[i]
	}
	return r
}

// DefaultRegistry compiles the built-in profiles
func DefaultRegistry() *Registry {
	profiles := make([]Profile, 0, len(profileSpecs))
	for _, s := range profileSpecs {
		profiles = append(profiles, s.compile())
	}
	return NewRegistry(profiles)
}

// Get returns the profile for id
func (r *Registry) Get(id string) (*Profile, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Profiles returns the profiles in precedence order
func (r *Registry) Profiles() []Profile {
	return append([]Profile(nil), r.profiles...)
}

// Classifier detects the retailer format from header text
type Classifier struct {
	registry *Registry
}

// NewClassifier creates a Classifier over registry
func NewClassifier(registry *Registry) *Classifier {
	return &Classifier{registry: registry}
}

// DetectStore returns the first profile whose identifiers match the
// lower-cased header text, then falls back to GenericGrocery, then Unknown
func (c *Classifier) DetectStore(headerText string) string {
	lower := strings.ToLower(headerText)
	if strings.TrimSpace(lower) == "" {
		return Unknown
	}

	for _, p := range c.registry.profiles {
		for _, id := range p.Identifiers {
			if id.MatchString(lower) {
				return p.ID
			}
		}
	}

	for _, k := range genericKeywords {
		if strings.Contains(lower, k) {
			return GenericGrocery
		}
	}
	return Unknown
}

// HeaderRegion is the top part of a w×h image searched for the store name
func HeaderRegion(w, h int) image.Rectangle {
	return image.Rect(0, 0, w, max(1, int(float64(h)*HeaderFraction)))
}
