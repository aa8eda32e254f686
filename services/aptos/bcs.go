package aptos

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Serializer writes values in Binary Canonical Serialization, the
// wire format Aptos uses for transactions and entry-function
// arguments.
type Serializer struct {
	buf bytes.Buffer
}

func NewSerializer() *Serializer {
	return &Serializer{}
}

func (s *Serializer) Bytes() []byte {
	return s.buf.Bytes()
}

func (s *Serializer) Bool(v bool) {
	if v {
		s.buf.WriteByte(1)
	} else {
		s.buf.WriteByte(0)
	}
}

func (s *Serializer) U8(v uint8) {
	s.buf.WriteByte(v)
}

func (s *Serializer) U64(v uint64) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	s.buf.Write(b[:])
}

func (s *Serializer) U128(v *big.Int) {
	var b [16]byte
	raw := v.Bytes() // big-endian
	for i := 0; i < len(raw) && i < 16; i++ {
		b[i] = raw[len(raw)-1-i]
	}
	s.buf.Write(b[:])
}

// Uleb128 writes an unsigned LEB128 length prefix.
func (s *Serializer) Uleb128(v uint64) {
	for v >= 0x80 {
		s.buf.WriteByte(byte(v&0x7f) | 0x80)
		v >>= 7
	}
	s.buf.WriteByte(byte(v))
}

// FixedBytes writes raw bytes with no length prefix.
func (s *Serializer) FixedBytes(b []byte) {
	s.buf.Write(b)
}

// VecBytes writes a ULEB128 length followed by the bytes.
func (s *Serializer) VecBytes(b []byte) {
	s.Uleb128(uint64(len(b)))
	s.buf.Write(b)
}

// Str writes a string as a ULEB128-prefixed byte vector.
func (s *Serializer) Str(v string) {
	s.VecBytes([]byte(v))
}

// Address writes a 32-byte account address, left-padding short forms
// like 0x1 to canonical width.
func (s *Serializer) Address(addr string) error {
	b, err := canonicalAddress(addr)
	if err != nil {
		return err
	}
	s.buf.Write(b)
	return nil
}

func canonicalAddress(addr string) ([]byte, error) {
	hexPart := strings.TrimPrefix(addr, "0x")
	if len(hexPart) > 64 {
		return nil, fmt.Errorf("address too long: %s", addr)
	}
	hexPart = strings.Repeat("0", 64-len(hexPart)) + hexPart
	b, err := hex.DecodeString(hexPart)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", addr, err)
	}
	return b, nil
}

const optionPrefix = "0x1::option::Option<"

// EncodeMoveValue BCS-encodes one entry-function argument given its
// Move type string. JSON-decoded values arrive as strings, numbers,
// bools and nested []interface{}.
func EncodeMoveValue(typeStr string, value interface{}) ([]byte, error) {
	s := NewSerializer()
	if err := encodeMoveValue(s, typeStr, value); err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

func encodeMoveValue(s *Serializer, typeStr string, value interface{}) error {
	t := strings.TrimSpace(typeStr)
	switch {
	case t == "bool":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		s.Bool(b)
		return nil

	case t == "u8":
		n, err := toUint64(value)
		if err != nil {
			return err
		}
		if n > 0xff {
			return fmt.Errorf("u8 overflow: %d", n)
		}
		s.U8(uint8(n))
		return nil

	case t == "u64":
		n, err := toUint64(value)
		if err != nil {
			return err
		}
		s.U64(n)
		return nil

	case t == "u128":
		n, err := toBigInt(value)
		if err != nil {
			return err
		}
		s.U128(n)
		return nil

	case t == "address":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected address string, got %T", value)
		}
		return s.Address(str)

	case strings.HasPrefix(t, "vector<") && strings.HasSuffix(t, ">"):
		inner := t[len("vector<") : len(t)-1]
		items, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("expected array for %s, got %T", t, value)
		}
		s.Uleb128(uint64(len(items)))
		for _, item := range items {
			if err := encodeMoveValue(s, inner, item); err != nil {
				return err
			}
		}
		return nil

	case t == "0x1::option::Option<signer>":
		// The signer is supplied implicitly by the VM; the router
		// expects this slot encoded as none.
		s.Uleb128(0)
		return nil

	case strings.HasPrefix(t, optionPrefix) && strings.HasSuffix(t, ">"):
		inner := t[len(optionPrefix) : len(t)-1]
		if value == nil {
			s.Uleb128(0)
			return nil
		}
		s.Uleb128(1)
		return encodeMoveValue(s, inner, value)

	default:
		return fmt.Errorf("unsupported Move type: %q", t)
	}
}

func toUint64(v interface{}) (uint64, error) {
	switch val := v.(type) {
	case string:
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q: %w", val, err)
		}
		return n, nil
	case float64:
		if val < 0 {
			return 0, fmt.Errorf("negative integer %v", val)
		}
		return uint64(val), nil
	case int:
		if val < 0 {
			return 0, fmt.Errorf("negative integer %v", val)
		}
		return uint64(val), nil
	case uint64:
		return val, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toBigInt(v interface{}) (*big.Int, error) {
	switch val := v.(type) {
	case string:
		n, ok := new(big.Int).SetString(val, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", val)
		}
		return n, nil
	case float64:
		return new(big.Int).SetUint64(uint64(val)), nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}
