package common

// GlobalPrefix ... env var prefix shared by every flag in the binary
const GlobalPrefix = "EVV"

// PrefixEnvVar adds a prefix to the environment variable
func PrefixEnvVar(prefix, suffix string) []string {
	return []string{prefix + "_" + suffix}
}

// Contains checks if a slice contains a given value
func Contains[T comparable](vals []T, value T) bool {
	for _, v := range vals {
		if v == value {
			return true
		}
	}
	return false
}

// ContainsDuplicates checks if there are duplicates in the given slice
func ContainsDuplicates[P comparable](vals []P) bool {
	seen := make(map[P]struct{})
	for _, val := range vals {
		if _, exists := seen[val]; exists {
			return true
		}
		seen[val] = struct{}{}
	}
	return false
}
