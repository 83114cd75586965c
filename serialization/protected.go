package serialization

import (
	"fmt"

	"github.com/teamsquad/eventbus-go/contracts"
)

// EncryptProtected returns the payload of ev with every non-empty protected
// string field encrypted. Events without protected fields are returned as-is.
func EncryptProtected(ev contracts.Event, enc contracts.StringEncrypt) (contracts.Fields, error) {
	fields := ev.ToArray()
	secure, ok := ev.(contracts.EncryptedEvent)
	if !ok || enc == nil {
		return fields, nil
	}
	return transform(fields, secure.ProtectedFields(), enc.Encrypt)
}

// DecryptProtected reverses EncryptProtected for the listed keys.
func DecryptProtected(fields contracts.Fields, protected []string, enc contracts.StringEncrypt) (contracts.Fields, error) {
	if enc == nil || len(protected) == 0 {
		return fields, nil
	}
	return transform(fields, protected, enc.Decrypt)
}

func transform(fields contracts.Fields, keys []string, fn func(string) (string, error)) (contracts.Fields, error) {
	out := fields.Clone()
	for _, key := range keys {
		v, ok := out.Get(key)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		t, err := fn(s)
		if err != nil {
			return nil, fmt.Errorf("protected field %q: %w", key, err)
		}
		out = out.With(key, t)
	}
	return out, nil
}
