// Package profile encodes the authorization context forwarded to downstream
// services in a single header value.
package profile

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/zlib"

	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
	"github.com/odyssey-erp/odyssey-gateway/internal/license"
)

// Version is the context schema version written by Encode.
const Version = 1

// maxDecoded bounds the inflated size of a header value.
const maxDecoded = 1 << 20

// ErrDecode wraps every failure to decode a forwarded context.
var ErrDecode = errors.New("profile: decode")

// ErrInvalid is returned by Encode for a context Decode would refuse.
var ErrInvalid = errors.New("profile: invalid context")

var encoding = base64.RawURLEncoding

var validate = validator.New(validator.WithRequiredStructEnabled())

// Context is the authorization context downstream services receive.
type Context struct {
	Version   int                        `json:"v" validate:"eq=1"`
	Principal identity.Principal         `json:"principal"`
	Related   license.RelatedAccounts    `json:"related"`
	Resources []license.LicensedResource `json:"resources,omitempty" validate:"dive"`
}

// NewContext builds a context in canonical form.
func NewContext(p identity.Principal, related license.RelatedAccounts, resources []license.LicensedResource) Context {
	return canonical(Context{Version: Version, Principal: p, Related: related, Resources: resources})
}

// canonical returns a copy with every set-like slice sorted and empty
// slices collapsed to nil, so equal contexts encode to equal bytes.
func canonical(c Context) Context {
	out := c
	if len(c.Related.AccountIDs) > 0 {
		ids := append(c.Related.AccountIDs[:0:0], c.Related.AccountIDs...)
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		out.Related.AccountIDs = ids
	} else {
		out.Related.AccountIDs = nil
	}
	if len(c.Resources) == 0 {
		out.Resources = nil
		return out
	}
	out.Resources = make([]license.LicensedResource, len(c.Resources))
	for i, r := range c.Resources {
		if len(r.Roles) > 0 {
			r.Roles = append(r.Roles[:0:0], r.Roles...)
			sort.Strings(r.Roles)
		} else {
			r.Roles = nil
		}
		out.Resources[i] = r
	}
	sort.Slice(out.Resources, func(i, j int) bool {
		return out.Resources[i].AccountID.String() < out.Resources[j].AccountID.String()
	})
	return out
}

// Encode serialises, compresses and text-encodes c. Identical contexts
// always produce identical output. A context that would not survive Decode
// is refused with ErrInvalid.
func Encode(c Context) (string, error) {
	if c.Version == 0 {
		c.Version = Version
	}
	c = canonical(c)
	if err := validate.Struct(c); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("profile: marshal: %w", err)
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
	if err != nil {
		return "", fmt.Errorf("profile: compress: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("profile: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("profile: compress: %w", err)
	}
	return encoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. On any failure the zero Context is returned with
// an error wrapping ErrDecode.
func Decode(value string) (Context, error) {
	compressed, err := encoding.DecodeString(value)
	if err != nil {
		return Context{}, fmt.Errorf("%w: encoding: %v", ErrDecode, err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return Context{}, fmt.Errorf("%w: decompress: %v", ErrDecode, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, maxDecoded+1))
	if err != nil {
		return Context{}, fmt.Errorf("%w: decompress: %v", ErrDecode, err)
	}
	if len(raw) > maxDecoded {
		return Context{}, fmt.Errorf("%w: context exceeds %d bytes", ErrDecode, maxDecoded)
	}

	var c Context
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&c); err != nil {
		return Context{}, fmt.Errorf("%w: schema: %v", ErrDecode, err)
	}
	if dec.More() {
		return Context{}, fmt.Errorf("%w: trailing data", ErrDecode)
	}
	if err := validate.Struct(c); err != nil {
		return Context{}, fmt.Errorf("%w: schema: %v", ErrDecode, err)
	}
	return canonical(c), nil
}
