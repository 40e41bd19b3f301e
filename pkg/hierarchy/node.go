package hierarchy

import (
	"fmt"
	"sort"
	"time"

	"github.com/3leaps/bucketview/pkg/keypath"
)

// Kind discriminates the two node variants.
type Kind string

const (
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
)

// Node is one entry of a folder listing.
//
// A file node carries the object's key and metadata. A folder node is derived:
// it exists because a marker or at least one descendant key was seen. Its Key
// is the marker key (path + "/") whether or not a marker object exists.
type Node struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
	Key  string `json:"key"`

	// Path is the node's full segment path from the bucket root.
	Path keypath.Path `json:"path"`

	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified,omitzero"`
	ETag         string    `json:"etag,omitempty"`

	// HasMarker is set on folders backed by a zero-byte marker object.
	HasMarker bool `json:"has_marker,omitempty"`

	// ParentFolder is the listing prefix the node was found under.
	ParentFolder string `json:"parent_folder"`

	// Depth is the segment count of ParentFolder.
	Depth int `json:"depth"`
}

// IsFolder reports whether n is a folder node.
func (n Node) IsFolder() bool { return n.Kind == KindFolder }

// IsFile reports whether n is a file node.
func (n Node) IsFile() bool { return n.Kind == KindFile }

func (n Node) String() string {
	return fmt.Sprintf("%s(%s)", n.Kind, n.Key)
}

// SortNodes orders nodes folders first, then by name, then by key. Names
// compare bytewise.
func SortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.IsFolder() != b.IsFolder() {
			return a.IsFolder()
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Key < b.Key
	})
}
