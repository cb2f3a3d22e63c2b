package history

import (
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint digests a file's path, size, and modification time. Two file
// states with identical values are indistinguishable, even if content differs.
func Fingerprint(path string, size int64, modTime time.Time) string {
	d := xxhash.New()
	_, _ = d.WriteString(path)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatInt(size, 10))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatInt(modTime.UnixNano(), 10))
	return fmt.Sprintf("%016x", d.Sum64())
}

// FingerprintInfo is Fingerprint using the size and mtime from info.
func FingerprintInfo(path string, info fs.FileInfo) string {
	return Fingerprint(path, info.Size(), info.ModTime())
}
