package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// partialChunkSize is how many bytes of the head and tail of a stream are
// hashed instead of the full content. Collision risk is non-zero for large
// files that share both ends and length but differ in the middle; that is an
// accepted accuracy/performance trade-off for multi-gigabyte videos.
const partialChunkSize = 8 * 1024

// Key addresses one cached embedding: a hash of the input content plus a
// stable digest of the embedding configuration that produced it.
type Key struct {
	ContentHash string
	ConfigHash  string
}

func (k Key) String() string {
	return fmt.Sprintf("embed:%s:%s", k.ContentHash, k.ConfigHash)
}

// ConfigHash folds model name, clip length and requested scopes into a stable
// string. A zero clip length is encoded as "none"; scopes are sorted so the
// caller's ordering never changes the key.
func ConfigHash(model string, clipLength int, scopes []string) string {
	clip := "none"
	if clipLength > 0 {
		clip = strconv.Itoa(clipLength)
	}
	sorted := make([]string, len(scopes))
	copy(sorted, scopes)
	sort.Strings(sorted)
	return fmt.Sprintf("%s:%s:%s", model, clip, strings.Join(sorted, ","))
}

// HashContent returns the SHA-256 hex digest of content held in memory.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashStream computes a partial content hash of a seekable stream: the first
// 8KB, the last 8KB and the total byte length. Streams shorter than one chunk
// hash their full content plus the length.
func HashStream(r io.ReadSeeker) (string, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return "", fmt.Errorf("seek to end: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek to start: %w", err)
	}

	h := sha256.New()

	head := make([]byte, partialChunkSize)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read head chunk: %w", err)
	}
	h.Write(head[:n])

	if size > partialChunkSize {
		if _, err := r.Seek(size-partialChunkSize, io.SeekStart); err != nil {
			return "", fmt.Errorf("seek to tail: %w", err)
		}
		tail := make([]byte, partialChunkSize)
		n, err := io.ReadFull(r, tail)
		if err != nil && err != io.ErrUnexpectedEOF {
			return "", fmt.Errorf("read tail chunk: %w", err)
		}
		h.Write(tail[:n])
	}

	h.Write([]byte(strconv.FormatInt(size, 10)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseKey parses the String form of a Key. The config hash may itself
// contain colons, so only the prefix and content hash are split off.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "embed" || parts[1] == "" || parts[2] == "" {
		return Key{}, fmt.Errorf("malformed cache key %q", s)
	}
	return Key{ContentHash: parts[1], ConfigHash: parts[2]}, nil
}

// NewKey builds a cache key from in-memory content and the embedding config.
func NewKey(content []byte, model string, clipLength int, scopes []string) Key {
	return Key{
		ContentHash: HashContent(content),
		ConfigHash:  ConfigHash(model, clipLength, scopes),
	}
}

// NewStreamKey builds a cache key from a seekable stream using the partial
// hash strategy.
func NewStreamKey(r io.ReadSeeker, model string, clipLength int, scopes []string) (Key, error) {
	contentHash, err := HashStream(r)
	if err != nil {
		return Key{}, err
	}
	return Key{
		ContentHash: contentHash,
		ConfigHash:  ConfigHash(model, clipLength, scopes),
	}, nil
}
