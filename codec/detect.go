package codec

import (
	"encoding/json"
)

// Detect inspects a request body for an envelope.
//
// ok is false when body is not a JSON object or when any of the three
// envelope fields is missing, null or an empty string; such bodies are
// plaintext and must be passed through untouched. When all three fields are
// present but one of them is not a string, ok is true and err is
// ErrDecryptionFailed.
func Detect(body []byte) (env Envelope, ok bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Envelope{}, false, nil
	}

	raw := [3]json.RawMessage{fields["ciphertext"], fields["iv"], fields["authTag"]}
	var vals [3]string
	malformed := false
	for i, r := range raw {
		if len(r) == 0 || string(r) == "null" {
			return Envelope{}, false, nil
		}
		if err := json.Unmarshal(r, &vals[i]); err != nil {
			malformed = true
			continue
		}
		if vals[i] == "" {
			return Envelope{}, false, nil
		}
	}
	if malformed {
		return Envelope{}, true, ErrDecryptionFailed
	}
	return Envelope{Ciphertext: vals[0], IV: vals[1], AuthTag: vals[2]}, true, nil
}
