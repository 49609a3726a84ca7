package bridge

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	vberrors "github.com/odvcencio/visitbridge/pkg/errors"
)

// Receiver is the script object the bridge asset installs on window.
const Receiver = "webView"

//go:embed assets/bridge.js
var bridgeScript []byte

const injectionFormat = "(function(){var parent = document.getElementsByTagName('head').item(0);" +
	"var script = document.createElement('script');script.type = 'text/javascript';" +
	"script.innerHTML = window.atob('%s');parent.appendChild(script);return true;})()"

// Asset returns the bridge script installed into every cold-booted page.
func Asset() []byte {
	return append([]byte(nil), bridgeScript...)
}

// InjectionScript wraps the bridge asset in a loader that evaluates to true
// once the script element has been appended.
func InjectionScript() string {
	return fmt.Sprintf(injectionFormat, base64.StdEncoding.EncodeToString(bridgeScript))
}

// EncodeCall renders a function call with JSON-encoded arguments.
// HTML escaping is disabled so URLs and markup pass through untouched.
func EncodeCall(function string, args ...any) (string, error) {
	if strings.TrimSpace(function) == "" {
		return "", vberrors.New(vberrors.ErrCodeBridgeEncode, "function name is empty")
	}
	encoded := make([]string, 0, len(args))
	for i, arg := range args {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(arg); err != nil {
			return "", vberrors.Wrap(err, vberrors.ErrCodeBridgeEncode, "failed to encode argument").
				WithContext("function", function).
				WithContext("index", i)
		}
		encoded = append(encoded, strings.TrimRight(buf.String(), "\n"))
	}
	return fmt.Sprintf("%s(%s);", function, strings.Join(encoded, ",")), nil
}

// EncodeLocation normalises a location before handing it to the page.
// Components are re-escaped individually; unparseable or relative
// locations encode to the empty string.
func EncodeLocation(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	normalised := &url.URL{
		Scheme:      strings.ToLower(u.Scheme),
		User:        u.User,
		Host:        u.Host,
		Path:        u.Path,
		RawPath:     u.RawPath,
		RawQuery:    escapeQuery(u.RawQuery),
		Fragment:    u.Fragment,
		RawFragment: u.RawFragment,
	}
	return normalised.String()
}

// escapeQuery percent-encodes bytes that are not legal in a query while
// leaving existing escapes and parameter order alone.
func escapeQuery(q string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		c := q[i]
		if queryByteAllowed(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func queryByteAllowed(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-._~!$&'()*+,;=:@/?%", c) >= 0
}
