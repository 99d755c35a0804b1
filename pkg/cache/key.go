package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"github.com/pario-ai/promptgate/pkg/models"
)

// KeyPrefix namespaces completion entries in shared stores.
const KeyPrefix = "cache:"

// Normalize canonicalizes prompt text before hashing.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}

// Key derives the cache key of a prompt: SHA-256 over the normalized text and
// every generation parameter, hex encoded behind KeyPrefix.
func Key(p models.Prompt) string {
	h := sha256.New()
	writeField(h, p.Selection())
	writeField(h, p.Model)
	writeField(h, strconv.Itoa(p.MaxTokens))
	writeField(h, strconv.FormatFloat(p.Temperature, 'g', -1, 64))
	writeField(h, Normalize(p.Text))
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes s so adjacent fields cannot run into each other.
func writeField(h hash.Hash, s string) {
	fmt.Fprintf(h, "%d:%s;", len(s), s)
}
