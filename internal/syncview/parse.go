// Package syncview serves catch-up reads: the bootstrap snapshot and the
// incremental change feed over the requester's conversations.
package syncview

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrInvalidAfterSeq is returned for malformed after_seq_by_conversation input.
var ErrInvalidAfterSeq = errors.New("syncview: invalid after_seq_by_conversation format")

// ParseAfterSeqMap parses the per-conversation floor map. Two encodings are
// accepted: a JSON object {"conv":seq,...} and the compact "conv:seq,conv:seq"
// form. Empty input means "no floors" (every floor defaults to 0).
func ParseAfterSeqMap(raw string) (map[string]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]int64{}, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var decoded any
	// Trailing data after the first JSON value (as in "123:4") means the input
	// is not JSON at all; it falls through to the compact form.
	if err := dec.Decode(&decoded); err == nil && !dec.More() {
		obj, ok := decoded.(map[string]any)
		if !ok {
			return nil, ErrInvalidAfterSeq
		}
		result := make(map[string]int64, len(obj))
		for conversationID, v := range obj {
			if conversationID == "" {
				return nil, ErrInvalidAfterSeq
			}
			num, ok := v.(json.Number)
			if !ok {
				return nil, ErrInvalidAfterSeq
			}
			seq, err := num.Int64()
			if err != nil || seq < 0 {
				return nil, ErrInvalidAfterSeq
			}
			result[conversationID] = seq
		}
		return result, nil
	}

	// Compact form: "id:seq,id:seq".
	result := make(map[string]int64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		conversationID, seqText, found := strings.Cut(pair, ":")
		if !found {
			return nil, ErrInvalidAfterSeq
		}
		conversationID = strings.TrimSpace(conversationID)
		seqText = strings.TrimSpace(seqText)
		if conversationID == "" || !isDigits(seqText) {
			return nil, ErrInvalidAfterSeq
		}
		var seq int64
		for _, c := range seqText {
			seq = seq*10 + int64(c-'0')
			if seq < 0 {
				return nil, ErrInvalidAfterSeq
			}
		}
		result[conversationID] = seq
	}
	return result, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
