package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const namespaceSeparator = ":"

type Checkpoint struct {
	ThreadID  string          `json:"threadId"`
	Seq       int64           `json:"seq"`
	Stage     string          `json:"stage,omitempty"`
	State     json.RawMessage `json:"state"`
	WrittenAt time.Time       `json:"writtenAt"`
}

type Entry struct {
	Namespace []string        `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Key struct {
	Namespace []string
	Key       string
}

type Item struct {
	Namespace []string
	Key       string
	Value     json.RawMessage
}

type SearchQuery struct {
	Prefix []string
	// Text matches key or value case-insensitively. Empty means prefix listing.
	Text string
	// Limit of 0 uses the backend default; a negative limit returns every match.
	Limit  int
	Offset int
}

// keyEscaper percent-encodes the separator inside keys so that no key can
// reach into a deeper namespace.
var keyEscaper = strings.NewReplacer("%", "%25", namespaceSeparator, "%3A")

// CompositeKey joins the namespace segments and the escaped key. Uniqueness
// of stored entries is enforced on this value, and distinct (namespace, key)
// pairs never share one.
func CompositeKey(namespace []string, key string) string {
	key = keyEscaper.Replace(key)
	if len(namespace) == 0 {
		return key
	}
	return strings.Join(namespace, namespaceSeparator) + namespaceSeparator + key
}

// MatchesText reports whether needle, already lower-cased, occurs in the
// entry's namespace path, raw key or value.
func MatchesText(entry Entry, needle string) bool {
	if needle == "" {
		return true
	}
	path := strings.ToLower(strings.Join(append(append([]string(nil), entry.Namespace...), entry.Key), namespaceSeparator))
	return strings.Contains(path, needle) || strings.Contains(strings.ToLower(string(entry.Value)), needle)
}

// PrefixKey is the composite prefix that every key under namespace starts with.
func PrefixKey(namespace []string) string {
	if len(namespace) == 0 {
		return ""
	}
	return strings.Join(namespace, namespaceSeparator) + namespaceSeparator
}

func ValidateKey(namespace []string, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	for _, seg := range namespace {
		if seg == "" || strings.Contains(seg, namespaceSeparator) {
			return fmt.Errorf("invalid namespace segment %q", seg)
		}
	}
	return nil
}

func ValidateValue(value json.RawMessage) error {
	if len(value) == 0 || !json.Valid(value) {
		return fmt.Errorf("value must be valid JSON")
	}
	return nil
}
