package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zombor/pricescan/internal/failure"
)

// KeyForFile derives a key from the file name and its modification time, so
// an edited image misses the cache
func KeyForFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", failure.Wrap(failure.Classify(err).Code, err, fmt.Sprintf("stat %s", path))
	}
	return hashKey(path, strconv.FormatInt(info.ModTime().UnixNano(), 10)), nil
}

// KeyForSections derives a key from the ordered section paths
func KeyForSections(paths []string) string {
	return hashKey("sections", strings.Join(paths, "\n"))
}

func hashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
