package sqlite

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalJSON re-encodes an arbitrary JSON value with object keys sorted
// recursively (byte-wise) and no insignificant whitespace, per spec.md
// §4.1's "Canonical JSON". It round-trips through encoding/json's decoder,
// which already produces the shortest round-trip float formatting and
// UTF-8 strings spec.md asks for; only key ordering needs to be imposed
// explicitly, since map iteration order in Go (and json.Marshal's of a
// map[string]any) is otherwise randomized.
func canonicalJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return marshalCanonical(v)
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kEnc, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kEnc...)
			buf = append(buf, ':')
			vEnc, err := marshalCanonical(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vEnc...)
		}
		buf = append(buf, '}')
		return buf, nil

	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			iEnc, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, iEnc...)
		}
		buf = append(buf, ']')
		return buf, nil

	default:
		return json.Marshal(val)
	}
}

// contentHash computes SHA256(typ || 0x1F || canonical_json(value)) per
// spec.md §4.1, returned as a lowercase hex string.
func contentHash(typ string, value []byte) (string, error) {
	canon, err := canonicalJSON(value)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(typ))
	h.Write([]byte{0x1F})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}
