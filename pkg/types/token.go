package types

import (
	"encoding/hex"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Token is a typed constructor argument ready for ABI encoding.
// Value holds the Go representation go-ethereum's abi package expects for Type.
type Token struct {
	Type  abi.Type
	Value interface{}
}

// String returns the canonical text form of the token. Addresses and byte
// strings are lowercase hex without prefix, integers are lowercase hex
// (negative values as 256-bit two's complement), arrays render as [a,b]
// and tuples as (a,b). This form is part of the tracking fingerprint, so it
// must stay stable.
func (t Token) String() string {
	return formatValue(t.Type, reflect.ValueOf(t.Value))
}

// JoinTokens concatenates the canonical forms of all tokens.
func JoinTokens(tokens []Token) string {
	var sb strings.Builder
	for _, tok := range tokens {
		sb.WriteString(tok.String())
	}
	return sb.String()
}

// TokenValues returns the Go values of the tokens in order.
func TokenValues(tokens []Token) []interface{} {
	values := make([]interface{}, len(tokens))
	for i, tok := range tokens {
		values[i] = tok.Value
	}
	return values
}

// TokenArguments returns ABI arguments matching the token types.
func TokenArguments(tokens []Token) abi.Arguments {
	args := make(abi.Arguments, len(tokens))
	for i, tok := range tokens {
		args[i] = abi.Argument{Type: tok.Type}
	}
	return args
}

func formatValue(t abi.Type, v reflect.Value) string {
	for v.IsValid() && (v.Kind() == reflect.Interface || (v.Kind() == reflect.Ptr && t.T != abi.IntTy && t.T != abi.UintTy)) {
		v = v.Elem()
	}
	if !v.IsValid() {
		return ""
	}

	switch t.T {
	case abi.AddressTy:
		addr, _ := v.Interface().(common.Address)
		return hex.EncodeToString(addr.Bytes())
	case abi.BoolTy:
		return strconv.FormatBool(v.Bool())
	case abi.StringTy:
		return v.String()
	case abi.BytesTy, abi.FixedBytesTy, abi.FunctionTy:
		return hex.EncodeToString(byteSlice(v))
	case abi.IntTy, abi.UintTy:
		return formatInteger(v)
	case abi.SliceTy, abi.ArrayTy:
		parts := make([]string, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts[i] = formatValue(*t.Elem, v.Index(i))
		}
		return "[" + strings.Join(parts, ",") + "]"
	case abi.TupleTy:
		parts := make([]string, len(t.TupleElems))
		for i, elem := range t.TupleElems {
			parts[i] = formatValue(*elem, v.Field(i))
		}
		return "(" + strings.Join(parts, ",") + ")"
	}
	return ""
}

func byteSlice(v reflect.Value) []byte {
	if v.Kind() == reflect.Slice {
		return v.Bytes()
	}
	out := make([]byte, v.Len())
	for i := range out {
		out[i] = byte(v.Index(i).Uint())
	}
	return out
}

func formatInteger(v reflect.Value) string {
	var n *big.Int
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return "0"
		}
		n = new(big.Int).Set(v.Interface().(*big.Int))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = big.NewInt(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = new(big.Int).SetUint64(v.Uint())
	default:
		return ""
	}
	if n.Sign() < 0 {
		n = math.U256(n)
	}
	return n.Text(16)
}
