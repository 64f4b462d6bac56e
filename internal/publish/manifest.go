package publish

import (
	"fmt"
	"strings"
)

// segmentNames extracts the media entries of a segmented playlist in playback
// order. Tag and blank lines are not segment references.
func segmentNames(manifest string) []string {
	var names []string
	for _, line := range strings.Split(manifest, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		names = append(names, trimmed)
	}
	return names
}

// rewriteManifest substitutes every segment filename with its indirection
// reference of the form {endpoint}?id={storageId}, leaving tag lines intact.
// Every segment line must have a resolved reference; a missing one means a
// segment was never durably stored and the manifest must not be published.
func rewriteManifest(manifest, endpoint string, refs map[string]string) (string, error) {
	lines := strings.Split(manifest, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		ref, ok := refs[trimmed]
		if !ok || ref == "" {
			return "", fmt.Errorf("segment %s has no storage reference", trimmed)
		}
		lines[i] = indirectionReference(endpoint, ref)
	}
	return strings.Join(lines, "\n"), nil
}

func indirectionReference(endpoint, storageID string) string {
	return endpoint + "?id=" + storageID
}
