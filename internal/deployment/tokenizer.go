package deployment

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/smelter-dev/smelter/internal/config"
	"github.com/smelter-dev/smelter/pkg/types"
)

var (
	elementaryKind = regexp.MustCompile(`^(address|bool|string|bytes([1-9]|[12][0-9]|3[0-2])?|u?int(8|16|24|32|40|48|56|64|72|80|88|96|104|112|120|128|136|144|152|160|168|176|184|192|200|208|216|224|232|240|248|256)?)$`)
	arraySuffix    = regexp.MustCompile(`^(\[[0-9]*\])*$`)
)

// Tokenizer turns untyped manifest arguments into ABI tokens
type Tokenizer struct {
	// MaxArgs caps the constructor arity, 0 means no cap
	MaxArgs int
}

// Tokenize converts args in order. Address arguments of the form $name are
// replaced with the address deployed for name earlier in the run.
func (tk Tokenizer) Tokenize(name string, args []config.ArgSpec, deployed map[string]common.Address) ([]types.Token, error) {
	if tk.MaxArgs > 0 && len(args) > tk.MaxArgs {
		return nil, newError(KindTooManyConstructorArgs, name, "", nil)
	}

	tokens := make([]types.Token, 0, len(args))
	for _, arg := range args {
		typ, err := ParseType(arg.Kind)
		if err != nil {
			return nil, invalidParamType(err)
		}

		if ref, ok := arg.Reference(); ok {
			addr, found := deployed[ref]
			if !found {
				return nil, otherError(fmt.Errorf("%w: %s", ErrUnresolvedReference, ref))
			}
			tokens = append(tokens, types.Token{Type: typ, Value: addr})
			continue
		}

		value, err := coerce(typ, arg.Value)
		if err != nil {
			return nil, tokenizeParam(err, arg.Value)
		}
		tokens = append(tokens, types.Token{Type: typ, Value: value.Interface()})
	}

	return tokens, nil
}

// ParseType parses a Solidity type name such as uint256, bytes32[],
// address[2] or (uint256,address)[]. uint and int are aliases for their
// 256-bit forms.
func ParseType(kind string) (abi.Type, error) {
	m, err := parseKind(kind)
	if err != nil {
		return abi.Type{}, err
	}
	return abi.NewType(m.Type, "", m.Components)
}

func parseKind(kind string) (abi.ArgumentMarshaling, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return abi.ArgumentMarshaling{}, errors.New("empty type")
	}

	if strings.HasPrefix(kind, "(") {
		end := matchingParen(kind)
		if end < 0 {
			return abi.ArgumentMarshaling{}, fmt.Errorf("unbalanced parentheses in %q", kind)
		}
		suffix := kind[end+1:]
		if !arraySuffix.MatchString(suffix) {
			return abi.ArgumentMarshaling{}, fmt.Errorf("invalid type %q", kind)
		}

		parts := splitTopLevel(kind[1:end])
		if len(parts) == 0 {
			return abi.ArgumentMarshaling{}, fmt.Errorf("empty tuple in %q", kind)
		}
		components := make([]abi.ArgumentMarshaling, len(parts))
		for i, part := range parts {
			c, err := parseKind(part)
			if err != nil {
				return abi.ArgumentMarshaling{}, err
			}
			c.Name = fmt.Sprintf("f%d", i)
			components[i] = c
		}
		return abi.ArgumentMarshaling{Type: "tuple" + suffix, Components: components}, nil
	}

	base, suffix := kind, ""
	if i := strings.IndexByte(kind, '['); i >= 0 {
		base, suffix = kind[:i], kind[i:]
	}
	switch base {
	case "uint":
		base = "uint256"
	case "int":
		base = "int256"
	}
	if !elementaryKind.MatchString(base) || !arraySuffix.MatchString(suffix) {
		return abi.ArgumentMarshaling{}, fmt.Errorf("invalid type %q", kind)
	}
	return abi.ArgumentMarshaling{Type: base + suffix}, nil
}

func matchingParen(s string) int {
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits on commas that are not nested in brackets,
// parentheses or quotes. Items are trimmed; an empty input has no items.
func splitTopLevel(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	var (
		parts []string
		depth int
		quote rune
		start int
	)
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			depth--
		case r == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// coerce parses raw into the Go value go-ethereum expects for t
func coerce(t abi.Type, raw string) (reflect.Value, error) {
	switch t.T {
	case abi.AddressTy:
		raw = strings.TrimSpace(raw)
		if !common.IsHexAddress(raw) {
			return reflect.Value{}, fmt.Errorf("invalid address %q", raw)
		}
		return reflect.ValueOf(common.HexToAddress(raw)), nil

	case abi.BoolTy:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true":
			return reflect.ValueOf(true), nil
		case "false":
			return reflect.ValueOf(false), nil
		}
		return reflect.Value{}, fmt.Errorf("invalid bool %q", raw)

	case abi.StringTy:
		return reflect.ValueOf(raw), nil

	case abi.BytesTy:
		b, err := decodeHex(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil

	case abi.FixedBytesTy:
		b, err := decodeHex(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		if len(b) != t.Size {
			return reflect.Value{}, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		v := reflect.New(t.GetType()).Elem()
		reflect.Copy(v, reflect.ValueOf(b))
		return v, nil

	case abi.IntTy, abi.UintTy:
		return coerceInteger(t, raw)

	case abi.SliceTy, abi.ArrayTy:
		items, err := splitEnclosed(raw, '[', ']')
		if err != nil {
			return reflect.Value{}, err
		}
		var v reflect.Value
		if t.T == abi.ArrayTy {
			if len(items) != t.Size {
				return reflect.Value{}, fmt.Errorf("expected %d elements, got %d", t.Size, len(items))
			}
			v = reflect.New(t.GetType()).Elem()
		} else {
			v = reflect.MakeSlice(t.GetType(), len(items), len(items))
		}
		for i, item := range items {
			ev, err := coerce(*t.Elem, unquote(item))
			if err != nil {
				return reflect.Value{}, err
			}
			v.Index(i).Set(ev)
		}
		return v, nil

	case abi.TupleTy:
		items, err := splitEnclosed(raw, '(', ')')
		if err != nil {
			return reflect.Value{}, err
		}
		if len(items) != len(t.TupleElems) {
			return reflect.Value{}, fmt.Errorf("expected %d tuple fields, got %d", len(t.TupleElems), len(items))
		}
		v := reflect.New(t.GetType()).Elem()
		for i, item := range items {
			ev, err := coerce(*t.TupleElems[i], unquote(item))
			if err != nil {
				return reflect.Value{}, err
			}
			v.Field(i).Set(ev)
		}
		return v, nil
	}

	return reflect.Value{}, fmt.Errorf("unsupported type %s", t)
}

func coerceInteger(t abi.Type, raw string) (reflect.Value, error) {
	n, ok := parseWord(raw, t.T == abi.IntTy)
	if !ok {
		var err error
		n, err = parseInteger(raw)
		if err != nil {
			return reflect.Value{}, err
		}
	}

	var lo, hi *big.Int
	if t.T == abi.UintTy {
		lo = big.NewInt(0)
		hi = new(big.Int).Lsh(big.NewInt(1), uint(t.Size))
	} else {
		hi = new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		lo = new(big.Int).Neg(hi)
	}
	if n.Cmp(lo) < 0 || n.Cmp(hi) >= 0 {
		return reflect.Value{}, fmt.Errorf("%s out of range for %s", n, t)
	}

	switch t.Size {
	case 8, 16, 32, 64:
		if t.T == abi.UintTy {
			return reflect.ValueOf(n.Uint64()).Convert(t.GetType()), nil
		}
		return reflect.ValueOf(n.Int64()).Convert(t.GetType()), nil
	}
	return reflect.ValueOf(n), nil
}

// parseWord reads a full 32-byte hex word, with or without 0x. Such values
// are taken as hex even when every digit is decimal. Signed words are two's
// complement.
func parseWord(raw string, signed bool) (*big.Int, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s) != 64 {
		return nil, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	n := new(big.Int).SetBytes(b)
	if signed {
		n = math.S256(n)
	}
	return n, true
}

// parseInteger accepts decimal or 0x-prefixed hex, optionally signed
func parseInteger(raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg, s = true, s[1:]
	} else {
		s = strings.TrimPrefix(s, "+")
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base, s = 16, s[2:]
	}

	n, ok := new(big.Int).SetString(s, base)
	if !ok || s == "" {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	if neg {
		n.Neg(n)
	}
	return n, nil
}

func decodeHex(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", raw, err)
	}
	return b, nil
}

func splitEnclosed(raw string, open, close byte) ([]string, error) {
	s := strings.TrimSpace(raw)
	if len(s) < 2 || s[0] != open || s[len(s)-1] != close {
		return nil, fmt.Errorf("expected %c...%c, got %q", open, close, raw)
	}
	return splitTopLevel(s[1 : len(s)-1]), nil
}
