package http

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SameSite uint8

const (
	SameSiteDefaultMode SameSite = iota
	SameSiteLaxMode
	SameSiteStrictMode
	SameSiteNoneMode
)

// maxCookieValue is the practical limit browsers keep for one cookie.
const maxCookieValue = 4096

var (
	ErrNoCookie      = errors.New("http: named cookie not present")
	ErrInvalidCookie = errors.New("http: invalid cookie")
)

// Cookie is a Set-Cookie value a response hands to the client, or a
// name/value pair a request carries back.
type Cookie struct {
	Name  string
	Value string

	Path        string
	Domain      string
	Expires     time.Time
	MaxAge      int // < 0 deletes the cookie
	Secure      bool
	HttpOnly    bool
	SameSite    SameSite
	Partitioned bool
}

// AddCookie appends a Set-Cookie header. Cookies that would produce an
// invalid header are rejected with ErrInvalidCookie.
func (res *Response) AddCookie(cookie Cookie) error {
	if err := cookie.validate(); err != nil {
		return err
	}
	res.addHeader("Set-Cookie", string(cookie.appendTo(make([]byte, 0, 64))))
	return nil
}

// ClearCookie tells the client to drop the cookie name set for path.
func (res *Response) ClearCookie(name, path string) error {
	return res.AddCookie(Cookie{Name: name, Path: path, MaxAge: -1, Expires: time.Unix(0, 0)})
}

func (c Cookie) String() string {
	return string(c.appendTo(nil))
}

func (c Cookie) appendTo(dst []byte) []byte {
	dst = append(dst, c.Name...)
	dst = append(dst, '=')
	dst = append(dst, c.Value...)

	if c.Path != "" {
		dst = append(dst, "; Path="...)
		dst = append(dst, c.Path...)
	}
	if c.Domain != "" {
		dst = append(dst, "; Domain="...)
		dst = append(dst, c.Domain...)
	}
	if !c.Expires.IsZero() {
		dst = append(dst, "; Expires="...)
		dst = c.Expires.UTC().AppendFormat(dst, TimeFormat)
	}
	switch {
	case c.MaxAge > 0:
		dst = append(dst, "; Max-Age="...)
		dst = strconv.AppendInt(dst, int64(c.MaxAge), 10)
	case c.MaxAge < 0:
		dst = append(dst, "; Max-Age=0"...)
	}
	if c.Secure {
		dst = append(dst, "; Secure"...)
	}
	if c.HttpOnly {
		dst = append(dst, "; HttpOnly"...)
	}
	switch c.SameSite {
	case SameSiteLaxMode:
		dst = append(dst, "; SameSite=Lax"...)
	case SameSiteStrictMode:
		dst = append(dst, "; SameSite=Strict"...)
	case SameSiteNoneMode:
		dst = append(dst, "; SameSite=None"...)
	}
	if c.Partitioned {
		dst = append(dst, "; Partitioned"...)
	}
	return dst
}

// validate follows the cookie-name and cookie-value grammar of RFC 6265.
// Path and Domain must not be able to end the attribute early.
func (c Cookie) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidCookie)
	}
	for i := 0; i < len(c.Name); i++ {
		if !isCookieNameByte(c.Name[i]) {
			return fmt.Errorf("%w: name %q contains %q", ErrInvalidCookie, c.Name, c.Name[i])
		}
	}
	if len(c.Value) > maxCookieValue {
		return fmt.Errorf("%w: value of %q exceeds %d bytes", ErrInvalidCookie, c.Name, maxCookieValue)
	}
	for i := 0; i < len(c.Value); i++ {
		if !isCookieValueByte(c.Value[i]) {
			return fmt.Errorf("%w: value of %q contains %q", ErrInvalidCookie, c.Name, c.Value[i])
		}
	}
	for _, attr := range []string{c.Path, c.Domain} {
		if strings.ContainsAny(attr, ";\r\n") {
			return fmt.Errorf("%w: attribute %q", ErrInvalidCookie, attr)
		}
	}
	if c.SameSite == SameSiteNoneMode && !c.Secure {
		return fmt.Errorf("%w: SameSite=None requires Secure", ErrInvalidCookie)
	}
	return nil
}

func isCookieNameByte(b byte) bool {
	if b <= 0x20 || b >= 0x7f {
		return false
	}
	return !strings.ContainsRune(`"(),/:;<=>?@[\]{}`, rune(b))
}

func isCookieValueByte(b byte) bool {
	return b > 0x20 && b < 0x7f && b != '"' && b != ',' && b != ';' && b != '\\'
}

// parseCookieHeader splits a Cookie request header into its name/value
// pairs. Malformed pairs are skipped.
func parseCookieHeader(line string, dst []Cookie) []Cookie {
	for part := range strings.SplitSeq(line, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) > 1 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		dst = append(dst, Cookie{Name: strings.TrimSpace(name), Value: value})
	}
	return dst
}
