package topic

// MQTT wildcards. Wildcard matches exactly one level; MultiWildcard matches the rest of the
// topic and must be the last level of a filter.
const (
	Wildcard      = "+"
	MultiWildcard = "#"
)
