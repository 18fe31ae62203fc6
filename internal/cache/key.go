package cache

import "strings"

// Key builds a normalised composite key: each part trimmed and lower-cased,
// joined with "-". Key("Water", "H2O") == "water-h2o".
func Key(parts ...string) string {
	normalised := make([]string, len(parts))
	for i, p := range parts {
		normalised[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(normalised, "-")
}
