package store

// pairKey canonicalizes an unordered user pair so both participants map to
// the same conversation row.
func pairKey(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}

// previewText is the list preview for the last message; media kinds show a
// placeholder instead of the raw reference.
func previewText(content, kind string) string {
	switch kind {
	case "image":
		return "[image]"
	case "file":
		return "[file]"
	}
	return content
}
