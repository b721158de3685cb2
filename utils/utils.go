package utils

import (
	"crypto/sha256"
	"encoding/binary"
	"os"

	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/app"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// ReadRoster reads a group definition in the onet toml format and returns
// its roster.
func ReadRoster(path string) (*onet.Roster, error) {
	file, err := os.Open(path)
	if err != nil {
		log.Errorf("ReadRoster error: %v", err)
		return nil, err
	}
	defer file.Close()

	group, err := app.ReadGroupDescToml(file)
	if err != nil {
		log.Errorf("ReadRoster error: %v", err)
		return nil, err
	}
	if group.Roster == nil || len(group.Roster.List) == 0 {
		return nil, xerrors.New("empty roster")
	}
	return group.Roster, nil
}

// HashPoint returns the sha256 digest of the marshaled point. Tickets are
// signed over this digest.
func HashPoint(p kyber.Point) ([]byte, error) {
	buf, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(buf)
	return h.Sum(nil), nil
}

// FulfillDigest is the message a randomness provider signs when delivering
// words for a request: sha256(requestID || words in little-endian order).
func FulfillDigest(requestID []byte, words []uint64) []byte {
	h := sha256.New()
	h.Write(requestID)
	buf := make([]byte, 8)
	for _, w := range words {
		binary.LittleEndian.PutUint64(buf, w)
		h.Write(buf)
	}
	return h.Sum(nil)
}

// PointHex encodes a public key as a hex string.
func PointHex(p kyber.Point) (string, error) {
	return encoding.PointToStringHex(cothority.Suite, p)
}

// PointFromHex decodes a public key from its hex form.
func PointFromHex(s string) (kyber.Point, error) {
	return encoding.StringHexToPoint(cothority.Suite, s)
}

// ScalarHex encodes a private key as a hex string.
func ScalarHex(s kyber.Scalar) (string, error) {
	return encoding.ScalarToStringHex(cothority.Suite, s)
}

// ScalarFromHex decodes a private key from its hex form.
func ScalarFromHex(s string) (kyber.Scalar, error) {
	return encoding.StringHexToScalar(cothority.Suite, s)
}

// PointFromBytes unmarshals a public key from its binary form.
func PointFromBytes(buf []byte) (kyber.Point, error) {
	p := cothority.Suite.Point()
	err := p.UnmarshalBinary(buf)
	if err != nil {
		log.Errorf("cannot unmarshal point: %v", err)
		return nil, err
	}
	return p, nil
}
