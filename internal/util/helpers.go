// Package util holds small shared helpers with no project dependencies.
package util

import "sort"

// SortedCopy returns a sorted copy of a string slice.
// The original slice is not modified.
// Useful for building stable cache keys from unordered inputs.
func SortedCopy(slice []string) []string {
	if len(slice) == 0 {
		return nil
	}
	sorted := make([]string, len(slice))
	copy(sorted, slice)
	sort.Strings(sorted)
	return sorted
}

// DedupeStrings returns a copy of the slice with duplicates removed,
// preserving first-seen order.
func DedupeStrings(slice []string) []string {
	if len(slice) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(slice))
	result := make([]string, 0, len(slice))
	for _, s := range slice {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
