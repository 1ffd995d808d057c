package apihttp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

const authCookieName = "auth"

type authCookie struct {
	Username  string `json:"username"`
	Signature string `json:"signature"`
}

// authenticate returns the username carried by the auth cookie. With a
// non-empty secret the signature must be the hex HMAC-SHA256 of the username.
func authenticate(r *http.Request, secret string) (string, bool) {
	cookie, err := r.Cookie(authCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", false
	}
	info, ok := decodeAuthCookie(cookie.Value)
	if !ok {
		return "", false
	}
	username := strings.TrimSpace(info.Username)
	if username == "" {
		return "", false
	}
	if secret == "" {
		return username, true
	}
	if !hmac.Equal([]byte(signUsername(secret, username)), []byte(strings.ToLower(strings.TrimSpace(info.Signature)))) {
		return "", false
	}
	return username, true
}

func decodeAuthCookie(raw string) (authCookie, bool) {
	value := raw
	// Browsers may leave the value encoded twice.
	for i := 0; i < 2 && strings.Contains(value, "%"); i++ {
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			break
		}
		value = decoded
	}
	var info authCookie
	if err := json.Unmarshal([]byte(value), &info); err != nil {
		return authCookie{}, false
	}
	return info, true
}

func signUsername(secret, username string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(username))
	return hex.EncodeToString(mac.Sum(nil))
}
