package delta

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	logDir = "_delta_log/"

	// DefaultPartition names the directory holding null partition values.
	DefaultPartition = "__HIVE_DEFAULT_PARTITION__"
)

func logKey(prefix string, version int64) string {
	return prefix + logDir + fmt.Sprintf("%020d.json", version)
}

// parseLogVersion returns the version of a commit file key, or false for
// anything else in _delta_log (checkpoints, crc files).
func parseLogVersion(key string) (int64, bool) {
	i := strings.LastIndex(key, "/")
	name := key[i+1:]
	if len(name) != 25 || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// escapePartitionValue applies Hive path escaping to a partition value.
func escapePartitionValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		if needsEscape(c) {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func needsEscape(c byte) bool {
	if c < 0x20 || c == 0x7f {
		return true
	}
	return strings.IndexByte("\"#%'*/:=?\\{[]^", c) >= 0
}

// partitionDir is the relative directory for one partition value.
func partitionDir(column string, value *string) string {
	if value == nil {
		return column + "=" + DefaultPartition
	}
	return column + "=" + escapePartitionValue(*value)
}

// encodePath URL-encodes each segment of a relative data file path.
func encodePath(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// decodePath turns an add/remove path back into a storage key suffix.
func decodePath(p string) (string, error) {
	return url.PathUnescape(p)
}
