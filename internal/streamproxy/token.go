// Package streamproxy serves media behind opaque tokens, resolving each
// locator to a segment list and relaying the bytes in flushed chunks.
package streamproxy

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// tokenPrefix marks the versioned token format. Legacy tokens are plain
// base64url and can never contain a '.'.
const tokenPrefix = "v1."

var extRe = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// Token addresses one stream: an upstream locator and its declared extension.
type Token struct {
	Locator string `json:"l"`
	Ext     string `json:"e"`
}

func (t Token) validate() error {
	u, err := url.Parse(t.Locator)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("locator %q is not an http(s) url: %w", t.Locator, engine.ErrValidation)
	}
	if err := checkHost(u.Hostname()); err != nil {
		return err
	}
	if !extRe.MatchString(t.Ext) {
		return fmt.Errorf("extension %q: %w", t.Ext, engine.ErrValidation)
	}
	return nil
}

// EncodeToken builds a v1 token. The extension is lowercased.
func EncodeToken(locator, ext string) (string, error) {
	t := Token{Locator: locator, Ext: strings.ToLower(ext)}
	if err := t.validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken parses a v1 token, or a legacy base64url("locator|ext")
// token split on its last '|'. Every failure wraps engine.ErrValidation.
func DecodeToken(s string) (Token, error) {
	var t Token
	if body, ok := strings.CutPrefix(s, tokenPrefix); ok {
		raw, err := decodeBase64(body)
		if err != nil {
			return Token{}, fmt.Errorf("token base64: %w: %w", err, engine.ErrValidation)
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return Token{}, fmt.Errorf("token json: %w: %w", err, engine.ErrValidation)
		}
	} else {
		raw, err := decodeBase64(s)
		if err != nil {
			return Token{}, fmt.Errorf("token base64: %w: %w", err, engine.ErrValidation)
		}
		payload := string(raw)
		i := strings.LastIndexByte(payload, '|')
		if i <= 0 || i == len(payload)-1 {
			return Token{}, fmt.Errorf("token needs exactly locator|extension: %w", engine.ErrValidation)
		}
		t = Token{Locator: payload[:i], Ext: payload[i+1:]}
	}
	t.Ext = strings.ToLower(t.Ext)
	if err := t.validate(); err != nil {
		return Token{}, err
	}
	return t, nil
}

// decodeBase64 accepts padded and unpadded base64url.
func decodeBase64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Link is the public proxy URL for locator.
func Link(proxyURL, locator, ext string) (string, error) {
	tok, err := EncodeToken(locator, ext)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(proxyURL, "/") + "/stream/" + tok, nil
}
