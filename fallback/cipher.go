package fallback

import (
	"crypto/rc4"
	"encoding/base64"
	"fmt"
	"strings"
)

// latin1 maps each rune to one byte, as the scheme's key schedule does.
func latin1(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// decryptEntry base64-decodes entry and runs RC4 over it with key. The
// plaintext bytes are read back as Latin-1.
func decryptEntry(entry, key string) (string, error) {
	data, err := decodeBase64(entry)
	if err != nil {
		return "", fmt.Errorf("decoding table entry: %w", err)
	}
	k := latin1(key)
	if len(k) == 0 {
		return "", fmt.Errorf("empty rc4 key")
	}
	c, err := rc4.NewCipher(k)
	if err != nil {
		return "", fmt.Errorf("rc4 key: %w", err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)

	var b strings.Builder
	for _, v := range out {
		b.WriteRune(rune(v))
	}
	return b.String(), nil
}
