package approval

import "crypto/rand"

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomShortID returns a 2-character alphanumeric id for a human to type back in chat
// ("approve <short_id>"). Collision with any currently-pending id in the same folder is
// handled by the caller retrying.
func randomShortID() (string, error) {
	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 2)
	for i, b := range buf {
		out[i] = shortIDAlphabet[int(b)%len(shortIDAlphabet)]
	}
	return string(out), nil
}
