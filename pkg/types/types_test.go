package types

import (
	"math/big"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func mustType(t *testing.T, kind string, components ...abi.ArgumentMarshaling) abi.Type {
	t.Helper()
	typ, err := abi.NewType(kind, "", components)
	if err != nil {
		t.Fatalf("abi.NewType(%s): %v", kind, err)
	}
	return typ
}

func TestTokenString(t *testing.T) {
	tests := []struct {
		name  string
		kind  string
		value interface{}
		want  string
	}{
		{"address", "address", common.HexToAddress("0x00000000000000000000000000000000000000AB"), "00000000000000000000000000000000000000ab"},
		{"bool", "bool", true, "true"},
		{"string", "string", "Hello, World", "Hello, World"},
		{"bytes", "bytes", []byte{0xde, 0xad}, "dead"},
		{"bytes4", "bytes4", [4]byte{0xca, 0xfe, 0xba, 0xbe}, "cafebabe"},
		{"uint256", "uint256", big.NewInt(255), "ff"},
		{"uint8", "uint8", uint8(16), "10"},
		{"zero", "uint256", big.NewInt(0), "0"},
		{"negative int8", "int8", int8(-1), strings.Repeat("f", 64)},
		{"negative int256", "int256", big.NewInt(-2), strings.Repeat("f", 63) + "e"},
		{"uint array", "uint8[2]", [2]uint8{1, 2}, "[1,2]"},
		{"address slice", "address[]", []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")},
			"[0000000000000000000000000000000000000001,0000000000000000000000000000000000000002]"},
		{"empty slice", "bool[]", []bool{}, "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := Token{Type: mustType(t, tt.kind), Value: tt.value}
			if got := tok.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTokenStringTuple(t *testing.T) {
	typ := mustType(t, "tuple",
		abi.ArgumentMarshaling{Name: "f0", Type: "uint256"},
		abi.ArgumentMarshaling{Name: "f1", Type: "bool"},
	)

	v := reflect.New(typ.GetType()).Elem()
	v.Field(0).Set(reflect.ValueOf(big.NewInt(10)))
	v.Field(1).SetBool(false)

	tok := Token{Type: typ, Value: v.Interface()}
	if got := tok.String(); got != "(a,false)" {
		t.Errorf("String() = %q, want (a,false)", got)
	}
}

func TestJoinTokens(t *testing.T) {
	tokens := []Token{
		{Type: mustType(t, "uint256"), Value: big.NewInt(26)},
		{Type: mustType(t, "string"), Value: "x"},
		{Type: mustType(t, "bool"), Value: false},
	}
	if got := JoinTokens(tokens); got != "1axfalse" {
		t.Errorf("JoinTokens() = %q", got)
	}
	if got := JoinTokens(nil); got != "" {
		t.Errorf("JoinTokens(nil) = %q, want empty", got)
	}
}

func TestTokenArgumentsPack(t *testing.T) {
	tokens := []Token{
		{Type: mustType(t, "address"), Value: common.HexToAddress("0xaa")},
		{Type: mustType(t, "uint256"), Value: big.NewInt(1)},
	}

	packed, err := TokenArguments(tokens).Pack(TokenValues(tokens)...)
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	if len(packed) != 64 {
		t.Fatalf("expected 64 bytes, got %d", len(packed))
	}
	if packed[31] != 0xaa || packed[63] != 1 {
		t.Errorf("unexpected encoding: %x", packed)
	}
}

func TestDeployedContractsSortedAndCounts(t *testing.T) {
	contracts := DeployedContracts{
		common.HexToAddress("0x3"): {Name: "Token", Address: common.HexToAddress("0x3")},
		common.HexToAddress("0x2"): {Name: "Registry", Address: common.HexToAddress("0x2"), ArtifactPath: UnknownArtifact, Skipped: true},
		common.HexToAddress("0x1"): {Name: "Token", Address: common.HexToAddress("0x1"), Skipped: true},
	}

	sorted := contracts.Sorted()
	if len(sorted) != 3 {
		t.Fatalf("expected 3 contracts, got %d", len(sorted))
	}
	if sorted[0].Name != "Registry" {
		t.Errorf("expected Registry first, got %s", sorted[0].Name)
	}
	if sorted[1].Address != common.HexToAddress("0x1") || sorted[2].Address != common.HexToAddress("0x3") {
		t.Errorf("same-name contracts should be ordered by address: %v", sorted)
	}

	deployed, skipped := contracts.Counts()
	if deployed != 1 || skipped != 2 {
		t.Errorf("Counts() = %d, %d; want 1, 2", deployed, skipped)
	}
}
