package contentcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash returns the hex SHA-256 digest of content. Strings and byte slices are
// hashed as-is; everything else is hashed through its JSON encoding, which
// orders map keys and therefore is stable for equal values.
func Hash(content any) string {
	var data []byte
	switch v := content.(type) {
	case nil:
		data = nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case json.RawMessage:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			// Unencodable values still need a deterministic key.
			encoded = fmt.Appendf(nil, "%#v", v)
		}
		data = encoded
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key builds the canonical cache key for one stage invocation.
func Key(stage string, input, settings any) string {
	return Hash(stage) + "_" + Hash(input) + "_" + Hash(settings)
}
