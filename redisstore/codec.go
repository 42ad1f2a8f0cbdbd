package redisstore

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/authcore"
)

const (
	oneTimeRecordVersionV1 = 1
	// v2 appends the attempt counter.
	oneTimeRecordVersionV2 = 2
)

var errCorruptRecord = errors.New("one-time record corrupt")

// oneTimeRecord is the stored form of an authcore.OneTimeCredential.
type oneTimeRecord struct {
	Kind      string
	Email     string
	CodeHash  [32]byte
	IPAddress string
	UserAgent string
	ExpiresAt int64
	CreatedAt int64
	Attempts  uint16
}

func recordFromCredential(c *authcore.OneTimeCredential) (*oneTimeRecord, error) {
	raw, err := hex.DecodeString(c.CodeHash)
	if err != nil || len(raw) != 32 {
		return nil, errors.New("code hash must be 32 hex-encoded bytes")
	}
	r := &oneTimeRecord{
		Kind:      string(c.Kind),
		Email:     c.Email,
		IPAddress: c.IPAddress,
		UserAgent: c.UserAgent,
		ExpiresAt: c.ExpiresAt.UnixMilli(),
		CreatedAt: c.CreatedAt.UnixMilli(),
	}
	if c.Attempts > 0 {
		r.Attempts = uint16(min(c.Attempts, 0xffff))
	}
	copy(r.CodeHash[:], raw)
	return r, nil
}

func (r *oneTimeRecord) credential() *authcore.OneTimeCredential {
	return &authcore.OneTimeCredential{
		Kind:      authcore.CredentialKind(r.Kind),
		Email:     r.Email,
		CodeHash:  hex.EncodeToString(r.CodeHash[:]),
		IPAddress: r.IPAddress,
		UserAgent: r.UserAgent,
		ExpiresAt: time.UnixMilli(r.ExpiresAt).UTC(),
		Attempts:  int(r.Attempts),
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}
}

func encodeOneTimeRecord(r *oneTimeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(oneTimeRecordVersionV2)

	if len(r.Kind) > 255 {
		return nil, errors.New("kind too long")
	}
	buf.WriteByte(byte(len(r.Kind)))
	buf.WriteString(r.Kind)

	if err := writeString16(&buf, r.Email); err != nil {
		return nil, err
	}
	buf.Write(r.CodeHash[:])

	if len(r.IPAddress) > 255 {
		return nil, errors.New("ip address too long")
	}
	buf.WriteByte(byte(len(r.IPAddress)))
	buf.WriteString(r.IPAddress)

	if err := writeString16(&buf, r.UserAgent); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.Attempts); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeOneTimeRecord(data []byte) (*oneTimeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	if version != oneTimeRecordVersionV1 && version != oneTimeRecordVersionV2 {
		return nil, errors.New("invalid one-time record version")
	}

	r := &oneTimeRecord{}

	kindLen, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	kind := make([]byte, kindLen)
	if _, err := io.ReadFull(reader, kind); err != nil {
		return nil, errCorruptRecord
	}
	r.Kind = string(kind)

	if r.Email, err = readString16(reader); err != nil {
		return nil, errCorruptRecord
	}
	if _, err := io.ReadFull(reader, r.CodeHash[:]); err != nil {
		return nil, errCorruptRecord
	}

	ipLen, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	ip := make([]byte, ipLen)
	if _, err := io.ReadFull(reader, ip); err != nil {
		return nil, errCorruptRecord
	}
	r.IPAddress = string(ip)

	if r.UserAgent, err = readString16(reader); err != nil {
		return nil, errCorruptRecord
	}

	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, errCorruptRecord
	}
	if err := binary.Read(reader, binary.BigEndian, &r.CreatedAt); err != nil {
		return nil, errCorruptRecord
	}
	if version >= oneTimeRecordVersionV2 {
		if err := binary.Read(reader, binary.BigEndian, &r.Attempts); err != nil {
			return nil, errCorruptRecord
		}
	}
	if reader.Len() != 0 {
		return nil, errCorruptRecord
	}

	return r, nil
}

func writeString16(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString16(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
