package pica

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Request signing constants lifted from the upstream mobile client. They
// have to match bit-exactly or the upstream rejects the signature.
const (
	hostURL = "https://picaapi.picacomic.com/"
	apiKey  = "C69BAF41DA5ABD1FFEDC6D2FEA56B"

	// digestKey is the HMAC-SHA256 secret.
	digestKey = "~d}$Q7$eIni=V)9\\RK/P.RM4;9[7|@/CA}b~OW!3?EV`:<>M7pddUBL5n|0/*Cn"
)

// newNonce returns a fresh 32-char lowercase hex nonce (UUIDv4 without
// dashes).
func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// createSignature computes the per-request signature header. path is the
// request path relative to the API host (a full URL is tolerated and
// stripped); method is the HTTP method; time is seconds since epoch as a
// decimal string.
func createSignature(path, method, time, nonce string) string {
	path = canonicalPath(path)
	payload := strings.ToLower(path + time + nonce + strings.ToUpper(method) + apiKey)
	return hmacHex(digestKey, payload)
}

// canonicalPath strips the host prefix and any leading slash.
func canonicalPath(path string) string {
	path = strings.TrimPrefix(path, hostURL)
	return strings.TrimPrefix(path, "/")
}

func hmacHex(key, payload string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
