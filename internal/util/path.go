package util

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// ManifestSuffixes are the archive names used as given rather than treated
// as a directory.
var ManifestSuffixes = []string{".json", ".json.gz", ".json.zst"}

// IsManifestName reports whether uri already names an archive file.
func IsManifestName(uri string) bool {
	for _, suffix := range ManifestSuffixes {
		if strings.HasSuffix(uri, suffix) {
			return true
		}
	}
	return false
}

// ManifestName is the default archive name for a dataset.
func ManifestName(project, dataset string) string {
	return fmt.Sprintf("%s.%s.json", project, dataset)
}

// HeaderFileName names the per-table column header object.
func HeaderFileName(project, dataset, table string) string {
	return fmt.Sprintf("%s.%s.%s_header.csv", project, dataset, table)
}

// SplitPrefix returns the object name prefix shared by every part of a
// wildcard export name, i.e. everything before the "*".
func SplitPrefix(name string) string {
	prefix, _, _ := strings.Cut(name, "*")
	return prefix
}

// SplitParts matches the object names an export wrote for name. A "*" is
// filled with a 12-digit file number, so "dir/p.d.t-*.csv" matches
// "dir/p.d.t-000000000003.csv" but not the parts of table "t-eu". A name
// without a wildcard matches only itself.
func SplitParts(name string) *regexp.Regexp {
	prefix, suffix, wild := strings.Cut(name, "*")
	if !wild {
		return regexp.MustCompile("^" + regexp.QuoteMeta(name) + "$")
	}
	return regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `[0-9]{12}` + regexp.QuoteMeta(suffix) + "$")
}

// MergedName names the object composed from the parts under prefix:
// "dir/p.d.t-" becomes "dir/p.d.t.csv" (".csv.gz" when gzipped).
func MergedName(prefix string, gzipped bool) string {
	name := strings.TrimSuffix(prefix, "-") + ".csv"
	if gzipped {
		name += ".gz"
	}
	return name
}

// LocalName maps an object name onto a file name in the working directory.
// With keepPrefix the full name is kept, slashes flattened to underscores.
func LocalName(object string, keepPrefix bool) string {
	if keepPrefix {
		return strings.ReplaceAll(object, "/", "_")
	}
	return path.Base(object)
}
