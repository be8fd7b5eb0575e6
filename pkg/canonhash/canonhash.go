package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// SumObject hashes the json.Marshal encoding of v. Map keys are sorted by
// encoding/json, so equal states hash equally regardless of insertion order.
func SumObject(v any) (string, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), b, nil
}

// SumJSON re-encodes raw JSON through a generic value first so that
// whitespace and key order in the input do not change the hash.
func SumJSON(raw []byte) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	h, _, err := SumObject(v)
	return h, err
}
