package ldap

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// GUIDBytesLength is the length of a binary objectGUID.
const GUIDBytesLength = 16

// DefaultBinaryAttributes are attributes whose values are always binary.
var DefaultBinaryAttributes = []string{"objectGUID", "objectSid", "jpegPhoto", "thumbnailPhoto", "userCertificate"}

// AttributeRenderer turns attribute values into strings. Binary values are
// base64 encoded unless identifier decoding renders them as SID or GUID
// strings.
type AttributeRenderer struct {
	binary            map[string]bool
	decodeIdentifiers bool
}

// NewAttributeRenderer creates a renderer treating the named attributes as
// binary in addition to any value that is not valid UTF-8.
func NewAttributeRenderer(binaryAttributes []string, decodeIdentifiers bool) *AttributeRenderer {
	binary := make(map[string]bool, len(binaryAttributes))
	for _, name := range binaryAttributes {
		if name = strings.TrimSpace(name); name != "" {
			binary[strings.ToLower(name)] = true
		}
	}
	return &AttributeRenderer{binary: binary, decodeIdentifiers: decodeIdentifiers}
}

// Values renders every value of attr.
func (r *AttributeRenderer) Values(attr *ldap.EntryAttribute) []string {
	if attr == nil {
		return nil
	}

	name, options, _ := strings.Cut(attr.Name, ";")
	binaryAttr := r.binary[strings.ToLower(name)] || strings.Contains(strings.ToLower(options), "binary")

	raw := attr.ByteValues
	if len(raw) == 0 {
		for _, v := range attr.Values {
			raw = append(raw, []byte(v))
		}
	}

	out := make([]string, 0, len(raw))
	for _, value := range raw {
		if !binaryAttr && utf8.Valid(value) {
			out = append(out, string(value))
			continue
		}
		out = append(out, r.renderBinary(name, value))
	}
	return out
}

func (r *AttributeRenderer) renderBinary(name string, value []byte) string {
	if r.decodeIdentifiers {
		switch {
		case strings.EqualFold(name, "objectSid"):
			if s, err := SIDToString(value); err == nil {
				return s
			}
		case strings.EqualFold(name, "objectGUID"):
			if s, err := GUIDToString(value); err == nil {
				return s
			}
		}
	}
	return base64.StdEncoding.EncodeToString(value)
}

// SIDToString converts a binary security identifier to S-1-5-21-... form.
func SIDToString(binarySID []byte) (string, error) {
	// revision, sub-authority count and 6-byte authority
	if len(binarySID) < 8 {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(binarySID))
	}
	if want := 8 + 4*int(binarySID[1]); len(binarySID) < want {
		return "", fmt.Errorf("binary SID truncated: expected %d bytes, got %d", want, len(binarySID))
	}

	sid := objectsid.Decode(binarySID)
	return sid.String(), nil
}

// GUIDToString converts an Active Directory objectGUID to its canonical
// string. The first three fields are stored little-endian.
func GUIDToString(guidBytes []byte) (string, error) {
	if len(guidBytes) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(guidBytes))
	}

	standard := make([]byte, GUIDBytesLength)
	standard[0], standard[1], standard[2], standard[3] = guidBytes[3], guidBytes[2], guidBytes[1], guidBytes[0]
	standard[4], standard[5] = guidBytes[5], guidBytes[4]
	standard[6], standard[7] = guidBytes[7], guidBytes[6]
	copy(standard[8:], guidBytes[8:])

	id, err := uuid.FromBytes(standard)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
