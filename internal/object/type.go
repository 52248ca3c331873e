// Package object defines the top-level threat-intelligence objects Warden
// stores and the analysis tasks embedded in them.
package object

import "fmt"

// Type is the stable tag of a top-level object variant.
type Type string

const (
	TypeCertificate Type = "Certificate"
	TypeDomain      Type = "Domain"
	TypeEvent       Type = "Event"
	TypeIndicator   Type = "Indicator"
	TypeIP          Type = "IP"
	TypePCAP        Type = "PCAP"
	TypeRawData     Type = "RawData"
	TypeSample      Type = "Sample"
)

// variants is the closed set of known types. The value reports whether the
// variant is identified by a content checksum rather than an opaque id.
var variants = map[Type]bool{
	TypeCertificate: true,
	TypeDomain:      false,
	TypeEvent:       false,
	TypeIndicator:   false,
	TypeIP:          false,
	TypePCAP:        true,
	TypeRawData:     false,
	TypeSample:      true,
}

// Types returns every known variant in a stable order.
func Types() []Type {
	return []Type{
		TypeCertificate, TypeDomain, TypeEvent, TypeIndicator,
		TypeIP, TypePCAP, TypeRawData, TypeSample,
	}
}

// ParseType resolves a type tag. Matching is exact.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := variants[t]; !ok {
		return "", fmt.Errorf("unknown object type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known variants.
func (t Type) Valid() bool {
	_, ok := variants[t]
	return ok
}

// Checksummed reports whether objects of this type are identified by the
// MD5 of their content (Certificate, PCAP, Sample).
func (t Type) Checksummed() bool {
	return variants[t]
}

func (t Type) String() string { return string(t) }
