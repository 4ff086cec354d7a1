package store

import (
	"fmt"
	"strings"
	"time"
)

// key layout (all segments separated by ":"):
//
//	msg:<id>                  -> JSON models.Row
//	ts:<unix_nanos>:<id>      -> id, ordering index on created_at
const (
	messagePrefix = "msg:"
	createdPrefix = "ts:"

	// fixed width keeps lexicographic order equal to numeric order
	tsPadWidth = 20
)

func messageKey(id string) []byte {
	return []byte(messagePrefix + id)
}

func createdKey(createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%0*d:%s", createdPrefix, tsPadWidth, nanos(createdAt), id))
}

// createdBound is the exclusive upper bound for every entry created before t.
func createdBound(t time.Time) []byte {
	return []byte(fmt.Sprintf("%s%0*d", createdPrefix, tsPadWidth, nanos(t)))
}

// createdEnd sorts after every created_at index key.
func createdEnd() []byte {
	return []byte(strings.TrimSuffix(createdPrefix, ":") + ";")
}

func nanos(t time.Time) int64 {
	n := t.UnixNano()
	if n < 0 {
		return 0
	}
	return n
}

func idFromCreatedKey(k []byte) (string, error) {
	s := string(k)
	if !strings.HasPrefix(s, createdPrefix) {
		return "", fmt.Errorf("not an index key: %q", s)
	}
	rest := s[len(createdPrefix):]
	if len(rest) < tsPadWidth+2 || rest[tsPadWidth] != ':' {
		return "", fmt.Errorf("malformed index key: %q", s)
	}
	return rest[tsPadWidth+1:], nil
}
