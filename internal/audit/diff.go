package audit

import (
	"sort"
	"strings"

	"github.com/wI2L/jsondiff"

	"peopleops/internal/changereq/models"
)

// defaultDiffExclusions are bookkeeping fields that change on every write and
// carry no review value.
var defaultDiffExclusions = map[string]bool{
	"id":        true,
	"createdAt": true,
	"updatedAt": true,
	"revision":  true,
}

// ChangedKeys returns the sorted set of top-level keys whose serialized values
// differ between the two snapshots, with bookkeeping fields excluded. Display
// ordering and labels are the UI's concern; this is only the changed-key set.
func ChangedKeys(before, after models.Document, exclude ...string) ([]string, error) {
	if before == nil {
		before = models.Document{}
	}
	if after == nil {
		after = models.Document{}
	}

	excluded := make(map[string]bool, len(defaultDiffExclusions)+len(exclude))
	for k := range defaultDiffExclusions {
		excluded[k] = true
	}
	for _, k := range exclude {
		excluded[k] = true
	}

	patch, err := jsondiff.Compare(before, after)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, op := range patch {
		key := topLevelKey(op.Path)
		if key == "" || excluded[key] {
			continue
		}
		seen[key] = true
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// topLevelKey extracts the first segment of a JSON Pointer path, undoing the
// RFC 6901 escapes.
func topLevelKey(path string) string {
	path = strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(path, '/'); idx != -1 {
		path = path[:idx]
	}
	path = strings.ReplaceAll(path, "~1", "/")
	return strings.ReplaceAll(path, "~0", "~")
}
