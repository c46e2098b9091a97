package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// TagPrefix starts every version tag written into a script header.
const TagPrefix = "V_"

// ParseTag converts a header tag ("V_703004f") into a commit id.
func ParseTag(tag string) (uint32, error) {
	hex, ok := strings.CutPrefix(tag, TagPrefix)
	if !ok {
		return 0, fmt.Errorf("tag %q: missing %q prefix", tag, TagPrefix)
	}
	return parseCommit(hex)
}

// FormatTag renders a commit id as a header tag.
func FormatTag(id uint32) string {
	return fmt.Sprintf("%s%07x", TagPrefix, id)
}

func parseCommit(s string) (uint32, error) {
	if len(s) != 7 {
		return 0, fmt.Errorf("commit %q: want 7 hex digits", s)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("commit %q: %w", s, err)
	}
	return uint32(n), nil
}
