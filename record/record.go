// Package record implements the on-disk framing for a single Bitcask
// log entry: a fixed header, a CRC guarding everything after it, and
// the raw key/value bytes.
package record

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

const (
	crcSize    int64 = 4
	tstampSize int64 = 4
	kszSize    int64 = 4
	vszSize    int64 = 4

	// HeaderSize is the size of the fixed fields that follow the CRC:
	// tstamp | ksz | vsz.
	HeaderSize int64 = tstampSize + kszSize + vszSize

	// FrameSize is the total fixed-size portion of a record: CRC + HeaderSize.
	FrameSize int64 = crcSize + HeaderSize

	// Tombstone is the reserved sentinel value denoting a deleted key.
	// Users must never legitimately store this exact byte string.
	Tombstone string = "bitcask_tombstone"
)

var (
	// ErrCorrupt is returned when a record's CRC does not validate.
	ErrCorrupt = errors.New("record: checksum mismatch")

	// ErrTruncated is returned when fewer bytes are available than a full
	// header or the record's own header claims, including when the input
	// is exhausted before a header starts; callers treat this as EOF during
	// a sequential scan, not as a hard error.
	ErrTruncated = errors.New("record: truncated")

	// ErrKeyTooLarge / ErrValueTooLarge guard against a length wider than the
	// on-disk 32-bit length field.
	ErrKeyTooLarge   = errors.New("record: key exceeds 2^32-1 bytes")
	ErrValueTooLarge = errors.New("record: value exceeds 2^32-1 bytes")
)

const maxUint32 = 1<<32 - 1

// Header is the decoded fixed-size prefix of a record, before key/value.
type Header struct {
	Tstamp   uint32
	KeySize  uint32
	ValSize  uint32
	Checksum uint32
}

// TotalSize returns the full on-disk size of the record this header describes.
func (h Header) TotalSize() int64 {
	return FrameSize + int64(h.KeySize) + int64(h.ValSize)
}

// Encode serializes (key, value, tstamp) into the wire format:
// CRC(4) | tstamp(4) | ksz(4) | vsz(4) | key | value
// and returns the bytes to append; their length is the total record size.
func Encode(key, value []byte, tstamp uint32) ([]byte, error) {
	if len(key) == 0 {
		return nil, errors.New("record: empty key")
	}
	if uint64(len(key)) > maxUint32 {
		return nil, errors.WithStack(ErrKeyTooLarge)
	}
	if uint64(len(value)) > maxUint32 {
		return nil, errors.WithStack(ErrValueTooLarge)
	}

	total := FrameSize + int64(len(key)) + int64(len(value))
	buf := make([]byte, total)

	binary.BigEndian.PutUint32(buf[4:8], tstamp)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(key)))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(value)))
	copy(buf[FrameSize:], key)
	copy(buf[FrameSize+int64(len(key)):], value)

	crc := crc32.ChecksumIEEE(buf[4:])
	binary.BigEndian.PutUint32(buf[0:4], crc)

	return buf, nil
}

// DecodeHeader reads and parses the fixed-size header at the front of r,
// without validating the CRC (the caller must have key+value bytes for that).
func DecodeHeader(r io.Reader) (Header, error) {
	hdr := make([]byte, FrameSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Header{}, errors.WithStack(ErrTruncated)
		}
		return Header{}, errors.WithStack(err)
	}
	return Header{
		Checksum: binary.BigEndian.Uint32(hdr[0:4]),
		Tstamp:   binary.BigEndian.Uint32(hdr[4:8]),
		KeySize:  binary.BigEndian.Uint32(hdr[8:12]),
		ValSize:  binary.BigEndian.Uint32(hdr[12:16]),
	}, nil
}

// Decode reads a full record (header + key + value) from r, validates its
// CRC, and returns the decoded key, value and tstamp.
func Decode(r io.Reader) (key, value []byte, tstamp uint32, err error) {
	hdr, err := DecodeHeader(r)
	if err != nil {
		return nil, nil, 0, err
	}

	body := make([]byte, int64(hdr.KeySize)+int64(hdr.ValSize))
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil, 0, errors.WithStack(ErrTruncated)
		}
		return nil, nil, 0, errors.WithStack(err)
	}

	if err := validate(hdr, body); err != nil {
		return nil, nil, 0, err
	}

	key = body[:hdr.KeySize]
	value = body[hdr.KeySize:]
	return key, value, hdr.Tstamp, nil
}

func validate(hdr Header, body []byte) error {
	c := crc32.NewIEEE()
	var tail [HeaderSize]byte
	binary.BigEndian.PutUint32(tail[0:4], hdr.Tstamp)
	binary.BigEndian.PutUint32(tail[4:8], hdr.KeySize)
	binary.BigEndian.PutUint32(tail[8:12], hdr.ValSize)
	c.Write(tail[:])
	c.Write(body)

	if c.Sum32() != hdr.Checksum {
		return errors.WithStack(ErrCorrupt)
	}
	return nil
}

// IsTombstone reports whether value is the reserved deletion sentinel.
func IsTombstone(value []byte) bool {
	return string(value) == Tombstone
}
