package mascara

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// StreamKind is the "kind" component of a stream-pointer URL, always
// expressed from the minting side's point of view (spec.md §3).
type StreamKind string

const (
	KindReadable StreamKind = "readable"
	KindWritable StreamKind = "writable"
)

func (k StreamKind) valid() bool { return k == KindReadable || k == KindWritable }

// DefaultScheme is the reference scheme value (spec.md §6). A Server or
// Client may override it via ServerOptions/DialOptions to namespace
// pointers per deployment.
const DefaultScheme = "mascara"

// Pointer is a parsed stream-pointer URL: scheme://id.kind.
type Pointer struct {
	Scheme string
	ID     string
	Kind   StreamKind
}

// String renders the pointer back to its wire form.
func (p Pointer) String() string {
	return fmt.Sprintf("%s://%s.%s", p.Scheme, p.ID, string(p.Kind))
}

// mintPointer generates a fresh, connection-unique pointer of the given
// kind. The id is a UUID-class opaque token, per spec.md §3.
func mintPointer(scheme string, kind StreamKind) Pointer {
	return Pointer{Scheme: scheme, ID: uuid.NewString(), Kind: kind}
}

// ParsePointer parses a method-name string as a stream-pointer URL. It
// fails if the string is not URL-shaped, has a path other than "/", or its
// host does not split into exactly "<id>.<kind>" with a recognized
// kind. A well-formed-but-wrong-scheme pointer still parses: scheme
// mismatches are a registry lookup miss (stray message), not a parse
// failure, since spec.md never requires validating the scheme.
func ParsePointer(s string) (Pointer, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Pointer{}, fmt.Errorf("mascara: not a url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Pointer{}, fmt.Errorf("mascara: %q is not scheme://host shaped", s)
	}
	if u.Path != "" && u.Path != "/" {
		return Pointer{}, fmt.Errorf("mascara: pointer must have no path, got %q", u.Path)
	}
	idx := strings.LastIndex(u.Host, ".")
	if idx < 0 {
		return Pointer{}, fmt.Errorf("mascara: host %q missing .kind suffix", u.Host)
	}
	id, kind := u.Host[:idx], StreamKind(u.Host[idx+1:])
	if id == "" || !kind.valid() {
		return Pointer{}, fmt.Errorf("mascara: host %q has no id or unrecognized kind", u.Host)
	}
	return Pointer{Scheme: u.Scheme, ID: id, Kind: kind}, nil
}
