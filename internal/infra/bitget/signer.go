package bitget

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Signer handles Bitget V2 API authentication signatures
type Signer struct {
	accessKey  string
	secretKey  string
	passphrase string
	now        func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(accessKey, secretKey, passphrase string) *Signer {
	return &Signer{
		accessKey:  accessKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		now:        time.Now,
	}
}

// GenerateHeaders creates the necessary headers for a request
// method: GET, POST, etc.
// path: /api/v2/spot/trade/fills (no host)
// query: symbol=BTCUSDT&limit=100 (empty if none)
// body: json string (empty if none)
func (s *Signer) GenerateHeaders(method, path, query, body string) map[string]string {
	// Unix Timestamp in Milliseconds
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)

	// timestamp + method + requestPath + "?" + queryString + body
	fullPath := path
	if query != "" {
		fullPath = path + "?" + query
	}

	sign := computeHmacSha256(timestamp+method+fullPath+body, s.secretKey)

	return map[string]string{
		"ACCESS-KEY":        s.accessKey,
		"ACCESS-SIGN":       sign,
		"ACCESS-TIMESTAMP":  timestamp,
		"ACCESS-PASSPHRASE": s.passphrase,
		"Content-Type":      "application/json",
		"locale":            "en-US",
	}
}

// LoginArgs builds the private websocket login. The websocket timestamp is in seconds.
func (s *Signer) LoginArgs() loginArg {
	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	return loginArg{
		APIKey:     s.accessKey,
		Passphrase: s.passphrase,
		Timestamp:  timestamp,
		Sign:       computeHmacSha256(timestamp+"GET"+loginVerifyPath, s.secretKey),
	}
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
