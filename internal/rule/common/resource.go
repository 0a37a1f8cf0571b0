package common

type ResourceType string

const (
	ResourceMainFrame      ResourceType = "main_frame"
	ResourceSubFrame       ResourceType = "sub_frame"
	ResourceXMLHTTPRequest ResourceType = "xmlhttprequest"
	ResourceOther          ResourceType = "other"
)

// AllResourceTypes is the scope of a rule that applies everywhere.
func AllResourceTypes() []ResourceType {
	return []ResourceType{ResourceMainFrame, ResourceSubFrame, ResourceXMLHTTPRequest, ResourceOther}
}

// NavigationResourceTypes is the scope of a top-level navigation.
func NavigationResourceTypes() []ResourceType {
	return []ResourceType{ResourceMainFrame}
}

// Engine ceilings.
const (
	DefaultMaxRules    = 5000
	DefaultMaxPriority = 2147483647

	// MinMaxPriority leaves one header band, one rewrite band and the
	// navigation rule above it.
	MinMaxPriority = 3
)

type Limits struct {
	MaxRules    int
	MaxPriority int
}

func DefaultLimits() Limits {
	return Limits{MaxRules: DefaultMaxRules, MaxPriority: DefaultMaxPriority}
}

// Normalized fills zero fields with defaults and raises MaxPriority to
// MinMaxPriority.
func (l Limits) Normalized() Limits {
	if l.MaxRules <= 0 {
		l.MaxRules = DefaultMaxRules
	}
	switch {
	case l.MaxPriority <= 0:
		l.MaxPriority = DefaultMaxPriority
	case l.MaxPriority < MinMaxPriority:
		l.MaxPriority = MinMaxPriority
	}
	return l
}
