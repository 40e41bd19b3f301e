// Package keypath translates between flat object-store keys and folder paths.
//
// Object stores have no directories. A key such as "reports/2024/q1.csv" is
// read here as the path ["reports", "2024", "q1.csv"], and a key with a
// trailing delimiter ("reports/") is a folder marker for ["reports"].
//
// All functions are pure.
package keypath

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates path segments inside an object key.
const Delimiter = "/"

var (
	// ErrInvalidKey indicates a key that cannot be projected onto a path:
	// empty, starting with the delimiter, or containing an empty segment.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidPath indicates a folder path or leaf name with an empty
	// segment or an embedded delimiter.
	ErrInvalidPath = errors.New("invalid path")
)

// Path is an ordered sequence of non-empty segments. The empty Path is the
// bucket root.
type Path []string

// String renders the path without leading or trailing delimiter.
func (p Path) String() string {
	return strings.Join(p, Delimiter)
}

// Equal reports whether p and other have the same segments.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether base is p or an ancestor of p.
func (p Path) HasPrefix(base Path) bool {
	if len(base) > len(p) {
		return false
	}
	return p[:len(base)].Equal(base)
}

// Relative returns the segments of p below base.
func (p Path) Relative(base Path) (Path, bool) {
	if !p.HasPrefix(base) {
		return nil, false
	}
	return p[len(base):], true
}

// IsRoot reports whether p denotes the bucket root.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Parse splits key into its path. A trailing delimiter marks a folder
// marker; the marker's path excludes the trailing empty segment.
func Parse(key string) (Path, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.HasPrefix(key, Delimiter) {
		return nil, false, fmt.Errorf("%w: %q starts with %q", ErrInvalidKey, key, Delimiter)
	}

	body := key
	marker := strings.HasSuffix(key, Delimiter)
	if marker {
		body = strings.TrimSuffix(key, Delimiter)
	}

	segments := strings.Split(body, Delimiter)
	for _, s := range segments {
		if s == "" {
			return nil, false, fmt.Errorf("%w: %q has an empty segment", ErrInvalidKey, key)
		}
	}
	return Path(segments), marker, nil
}

// Depth returns the number of segments in p.
func Depth(p Path) int {
	return len(p)
}

// Parent drops the last segment of p. The root has no parent.
func Parent(p Path) (Path, bool) {
	if len(p) == 0 {
		return nil, false
	}
	return p[:len(p)-1 : len(p)-1], true
}

// Join builds the object key for leaf inside folder. It is the inverse of
// Parse for non-marker keys.
func Join(folder Path, leaf string) (string, error) {
	if err := Validate(folder); err != nil {
		return "", err
	}
	if err := validateSegment(leaf); err != nil {
		return "", err
	}
	if folder.IsRoot() {
		return leaf, nil
	}
	return folder.String() + Delimiter + leaf, nil
}

// Leaf returns the last segment of key. For a folder marker this is the
// folder name.
func Leaf(key string) string {
	body := strings.TrimSuffix(key, Delimiter)
	if i := strings.LastIndex(body, Delimiter); i >= 0 {
		return body[i+1:]
	}
	return body
}

// FolderKey returns the marker key for folder ("a/b" -> "a/b/").
func FolderKey(folder Path) (string, error) {
	if folder.IsRoot() {
		return "", fmt.Errorf("%w: root has no folder marker", ErrInvalidPath)
	}
	if err := Validate(folder); err != nil {
		return "", err
	}
	return folder.String() + Delimiter, nil
}

// Prefix renders folder as a listing prefix: "" for the root, otherwise the
// path followed by the delimiter.
func Prefix(folder Path) string {
	if folder.IsRoot() {
		return ""
	}
	return folder.String() + Delimiter
}

// ParsePrefix is the inverse of Prefix.
func ParsePrefix(prefix string) (Path, error) {
	if prefix == "" {
		return Path{}, nil
	}
	p, marker, err := Parse(prefix)
	if err != nil || !marker {
		return nil, fmt.Errorf("%w: prefix %q must be empty or end with %q", ErrInvalidPath, prefix, Delimiter)
	}
	return p, nil
}

// ParsePath reads a user-supplied folder path. A single leading and trailing
// delimiter are tolerated; "" and "/" denote the root.
func ParsePath(s string) (Path, error) {
	s = strings.TrimPrefix(s, Delimiter)
	s = strings.TrimSuffix(s, Delimiter)
	if s == "" {
		return Path{}, nil
	}
	p := Path(strings.Split(s, Delimiter))
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks every segment of p.
func Validate(p Path) error {
	for _, s := range p {
		if err := validateSegment(s); err != nil {
			return err
		}
	}
	return nil
}

func validateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}
	if strings.Contains(s, Delimiter) {
		return fmt.Errorf("%w: segment %q contains %q", ErrInvalidPath, s, Delimiter)
	}
	return nil
}
