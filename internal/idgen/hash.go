// Package idgen generates content-derived issue identifiers.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// MinHashLength and MaxHashLength bound the base36 suffix of a hash ID.
const (
	MinHashLength = 3
	MaxHashLength = 8
)

// bytesForLength maps a suffix length to the number of hash bytes needed to fill it.
var bytesForLength = map[int]int{3: 2, 4: 3, 5: 4, 6: 4, 7: 5, 8: 5}

// EncodeBase36 converts a byte slice to a base36 string of exactly length
// characters, zero-padded on the left and truncated to the least significant
// digits when longer.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(36)
	mod := new(big.Int)

	var chars []byte
	for num.Sign() > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for l, r := 0, len(chars)-1; l < r; l, r = l+1, r-1 {
		chars[l], chars[r] = chars[r], chars[l]
	}

	str := string(chars)
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// GenerateHashID creates a hash-based ID for an issue: prefix-<base36>.
// The nonce is bumped by callers to step past collisions. Lengths outside
// 3-8 fall back to 4 characters.
func GenerateHashID(prefix, title, description, creator string, timestamp time.Time, length, nonce int) string {
	content := fmt.Sprintf("%s|%s|%s|%d|%d", title, description, creator, timestamp.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))

	numBytes, ok := bytesForLength[length]
	if !ok {
		length, numBytes = 4, bytesForLength[4]
	}
	return fmt.Sprintf("%s-%s", prefix, EncodeBase36(hash[:numBytes], length))
}

// GenerateRemapID derives a replacement ID for an incoming issue whose ID
// collided with a different local issue. The result depends only on the
// original ID and content hash, so every clone remaps the same record to the
// same ID.
func GenerateRemapID(prefix, oldID, contentHash string, length, nonce int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", oldID, contentHash, nonce)))
	numBytes, ok := bytesForLength[length]
	if !ok {
		length, numBytes = 6, bytesForLength[6]
	}
	return fmt.Sprintf("%s-%s", prefix, EncodeBase36(hash[:numBytes], length))
}

// ChildID formats the nth hierarchical child of parentID (bd-abc.1).
func ChildID(parentID string, n int) string {
	return fmt.Sprintf("%s.%d", parentID, n)
}

// ParentID returns the parent of a hierarchical ID and whether it has one.
func ParentID(id string) (string, bool) {
	idx := strings.LastIndex(id, ".")
	if idx <= 0 || idx == len(id)-1 {
		return "", false
	}
	for _, r := range id[idx+1:] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id[:idx], true
}

// AdaptiveLength picks a suffix length that keeps the collision probability
// low for a database holding issueCount issues.
func AdaptiveLength(issueCount int) int {
	switch {
	case issueCount < 500:
		return 4
	case issueCount < 5000:
		return 5
	case issueCount < 50000:
		return 6
	case issueCount < 500000:
		return 7
	default:
		return MaxHashLength
	}
}

// ExtractPrefix returns the part of id before the last hyphen.
func ExtractPrefix(id string) string {
	idx := strings.LastIndex(id, "-")
	if idx <= 0 {
		return ""
	}
	return id[:idx]
}
