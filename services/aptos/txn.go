package aptos

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// TypeTag variants per the Aptos BCS schema.
const (
	tagBool    = 0
	tagU8      = 1
	tagU64     = 2
	tagU128    = 3
	tagAddress = 4
	tagSigner  = 5
	tagVector  = 6
	tagStruct  = 7
)

// TypeTag is a parsed Move type argument.
type TypeTag struct {
	variant int
	elem    *TypeTag   // vector element
	strct   *StructTag // struct payload
}

// StructTag identifies a Move struct like 0x1::aptos_coin::AptosCoin,
// optionally with generic type parameters.
type StructTag struct {
	Address    string
	Module     string
	Name       string
	TypeParams []TypeTag
}

// ParseTypeTag parses a Move type string into a TypeTag. Handles
// primitives, vector<T>, and struct paths with nested generics.
func ParseTypeTag(s string) (TypeTag, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "bool":
		return TypeTag{variant: tagBool}, nil
	case "u8":
		return TypeTag{variant: tagU8}, nil
	case "u64":
		return TypeTag{variant: tagU64}, nil
	case "u128":
		return TypeTag{variant: tagU128}, nil
	case "address":
		return TypeTag{variant: tagAddress}, nil
	case "signer":
		return TypeTag{variant: tagSigner}, nil
	}

	if strings.HasPrefix(s, "vector<") && strings.HasSuffix(s, ">") {
		inner, err := ParseTypeTag(s[len("vector<") : len(s)-1])
		if err != nil {
			return TypeTag{}, err
		}
		return TypeTag{variant: tagVector, elem: &inner}, nil
	}

	st, err := parseStructTag(s)
	if err != nil {
		return TypeTag{}, err
	}
	return TypeTag{variant: tagStruct, strct: st}, nil
}

func parseStructTag(s string) (*StructTag, error) {
	generics := ""
	base := s
	if idx := strings.Index(s, "<"); idx >= 0 {
		if !strings.HasSuffix(s, ">") {
			return nil, fmt.Errorf("malformed struct tag: %q", s)
		}
		base = s[:idx]
		generics = s[idx+1 : len(s)-1]
	}

	parts := strings.Split(base, "::")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed struct tag: %q", s)
	}

	st := &StructTag{Address: parts[0], Module: parts[1], Name: parts[2]}
	if generics != "" {
		for _, g := range splitTopLevel(generics) {
			tag, err := ParseTypeTag(g)
			if err != nil {
				return nil, err
			}
			st.TypeParams = append(st.TypeParams, tag)
		}
	}
	return st, nil
}

// splitTopLevel splits a comma-separated generic list, ignoring
// commas nested inside angle brackets.
func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out
}

func (t TypeTag) serialize(s *Serializer) error {
	s.Uleb128(uint64(t.variant))
	switch t.variant {
	case tagVector:
		return t.elem.serialize(s)
	case tagStruct:
		if err := s.Address(t.strct.Address); err != nil {
			return err
		}
		s.Str(t.strct.Module)
		s.Str(t.strct.Name)
		s.Uleb128(uint64(len(t.strct.TypeParams)))
		for _, p := range t.strct.TypeParams {
			if err := p.serialize(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// EntryFunction is an entry-function transaction payload: a module
// path, a function name, parsed type arguments, and pre-encoded BCS
// argument blobs.
type EntryFunction struct {
	ModuleAddress string
	ModuleName    string
	Function      string
	TypeArgs      []TypeTag
	Args          [][]byte
}

// NewEntryFunction splits a fully qualified function name like
// addr::module::name into an EntryFunction.
func NewEntryFunction(function string, typeArgs []TypeTag, args [][]byte) (*EntryFunction, error) {
	parts := strings.Split(function, "::")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed function name: %q", function)
	}
	return &EntryFunction{
		ModuleAddress: parts[0],
		ModuleName:    parts[1],
		Function:      parts[2],
		TypeArgs:      typeArgs,
		Args:          args,
	}, nil
}

func (e *EntryFunction) serialize(s *Serializer) error {
	// TransactionPayload variant 2 = EntryFunction.
	s.Uleb128(2)
	if err := s.Address(e.ModuleAddress); err != nil {
		return err
	}
	s.Str(e.ModuleName)
	s.Str(e.Function)
	s.Uleb128(uint64(len(e.TypeArgs)))
	for _, t := range e.TypeArgs {
		if err := t.serialize(s); err != nil {
			return err
		}
	}
	s.Uleb128(uint64(len(e.Args)))
	for _, a := range e.Args {
		s.VecBytes(a)
	}
	return nil
}

// RawTransaction is the signable transaction body.
type RawTransaction struct {
	Sender         string
	SequenceNumber uint64
	Payload        *EntryFunction
	MaxGasAmount   uint64
	GasUnitPrice   uint64
	ExpirationSecs uint64
	ChainID        uint8
}

func (r *RawTransaction) serialize(s *Serializer) error {
	if err := s.Address(r.Sender); err != nil {
		return err
	}
	s.U64(r.SequenceNumber)
	if err := r.Payload.serialize(s); err != nil {
		return err
	}
	s.U64(r.MaxGasAmount)
	s.U64(r.GasUnitPrice)
	s.U64(r.ExpirationSecs)
	s.U8(r.ChainID)
	return nil
}

// SigningMessage is the byte string the account signs: a domain
// separator hash followed by the BCS-serialized transaction.
func (r *RawTransaction) SigningMessage() ([]byte, error) {
	s := NewSerializer()
	if err := r.serialize(s); err != nil {
		return nil, err
	}
	prefix := sha3.Sum256([]byte("APTOS::RawTransaction"))
	return append(prefix[:], s.Bytes()...), nil
}

// SignedBytes produces the BCS SignedTransaction: the raw body plus
// a single-key ed25519 authenticator.
func (r *RawTransaction) SignedBytes(account *Account) ([]byte, error) {
	msg, err := r.SigningMessage()
	if err != nil {
		return nil, err
	}
	sig := account.Sign(msg)

	s := NewSerializer()
	if err := r.serialize(s); err != nil {
		return nil, err
	}
	// TransactionAuthenticator variant 0 = ed25519 single key.
	s.Uleb128(0)
	s.VecBytes(account.PublicKey())
	s.VecBytes(sig)
	return s.Bytes(), nil
}

// DefaultExpiration returns a transaction deadline two minutes out.
func DefaultExpiration() uint64 {
	return uint64(time.Now().Add(2 * time.Minute).Unix())
}
