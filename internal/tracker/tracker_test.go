package tracker

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/smelter-dev/smelter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	genesisA = common.HexToHash("0xaaaa")
	genesisB = common.HexToHash("0xbbbb")
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	return New(filepath.Join(t.TempDir(), ".smelter"), Options{LockAttempts: 2, LockDelay: time.Millisecond})
}

func uintToken(t *testing.T, v int64) types.Token {
	t.Helper()
	typ, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	return types.Token{Type: typ, Value: big.NewInt(v)}
}

func TestTracker_CreateDatabase(t *testing.T) {
	tr := newTracker(t)
	assert.False(t, tr.Exists())

	require.NoError(t, tr.CreateDatabase())
	assert.True(t, tr.Exists())

	// idempotent, and keeps existing content
	ctx := context.Background()
	require.NoError(t, tr.Record(ctx, genesisA, "A", "0x60", nil, common.HexToAddress("0x01")))
	require.NoError(t, tr.CreateDatabase())

	rec, err := tr.Lookup(genesisA, "A", "0x60", nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestTracker_MissingDatabase(t *testing.T) {
	tr := newTracker(t)

	_, err := tr.Lookup(genesisA, "A", "0x60", nil)
	assert.ErrorIs(t, err, ErrDatabaseNotFound)

	err = tr.Record(context.Background(), genesisA, "A", "0x60", nil, common.Address{})
	assert.ErrorIs(t, err, ErrDatabaseNotFound)
}

func TestTracker_EmptyDocument(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.CreateDatabase())

	rec, err := tr.Lookup(genesisA, "A", "0x60", nil)
	require.NoError(t, err)
	assert.Nil(t, rec)

	contracts, err := tr.Contracts(genesisA)
	require.NoError(t, err)
	assert.Empty(t, contracts)
}

func TestTracker_RecordAndLookup(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.CreateDatabase())
	ctx := context.Background()

	args := []types.Token{uintToken(t, 100)}
	addr := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	require.NoError(t, tr.Record(ctx, genesisA, "Token", "0x6080", args, addr))

	rec, err := tr.Lookup(genesisA, "Token", "0x6080", args)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Token", rec.Name)
	assert.Equal(t, addr, rec.Address)

	// survives reopening
	reopened := New(tr.dir, DefaultOptions())
	rec, err = reopened.Lookup(genesisA, "Token", "0x6080", args)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, addr, rec.Address)
}

func TestTracker_ChangeSensitivity(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.CreateDatabase())
	ctx := context.Background()

	args := []types.Token{uintToken(t, 1)}
	require.NoError(t, tr.Record(ctx, genesisA, "Token", "0x6080", args, common.HexToAddress("0x01")))

	tests := []struct {
		name     string
		genesis  common.Hash
		contract string
		bytecode string
		args     []types.Token
	}{
		{"other chain", genesisB, "Token", "0x6080", args},
		{"renamed", genesisA, "Token2", "0x6080", args},
		{"new bytecode", genesisA, "Token", "0x6081", args},
		{"new args", genesisA, "Token", "0x6080", []types.Token{uintToken(t, 2)}},
		{"no args", genesisA, "Token", "0x6080", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := tr.Lookup(tt.genesis, tt.contract, tt.bytecode, tt.args)
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestTracker_Contracts(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.CreateDatabase())
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, genesisA, "A", "0x01", nil, common.HexToAddress("0x0a")))
	require.NoError(t, tr.Record(ctx, genesisA, "B", "0x02", nil, common.HexToAddress("0x0b")))
	require.NoError(t, tr.Record(ctx, genesisB, "C", "0x03", nil, common.HexToAddress("0x0c")))

	contracts, err := tr.Contracts(genesisA)
	require.NoError(t, err)
	require.Len(t, contracts, 2)

	rec, ok := contracts[ContractFingerprint("B", "0x02", nil)]
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x0b"), rec.Address)
}

func TestTracker_DocumentShape(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.CreateDatabase())
	require.NoError(t, tr.Record(context.Background(), genesisA, "A", "0x01", nil, common.HexToAddress("0x0a")))

	data, err := os.ReadFile(tr.Path())
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, ChainFingerprint(genesisA))
	assert.Contains(t, content, ContractFingerprint("A", "0x01", nil))
	assert.Contains(t, content, `name = "A"`)
	assert.Contains(t, strings.ToLower(content), "0x000000000000000000000000000000000000000a")
}

func TestTracker_NoTempFilesLeft(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.CreateDatabase())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Record(ctx, genesisA, "A", "0x01", []types.Token{uintToken(t, int64(i))}, common.HexToAddress("0x0a")))
	}

	entries, err := os.ReadDir(tr.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestTracker_CorruptDocument(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.CreateDatabase())
	require.NoError(t, os.WriteFile(tr.Path(), []byte("not = [valid"), 0644))

	_, err := tr.Lookup(genesisA, "A", "0x01", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestTracker_Lock(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	unlock, err := tr.Lock(ctx)
	require.NoError(t, err)

	other := New(tr.dir, Options{LockAttempts: 2, LockDelay: time.Millisecond})
	_, err = other.Lock(ctx)
	assert.ErrorIs(t, err, ErrLocked)

	unlock()

	unlock, err = other.Lock(ctx)
	require.NoError(t, err)
	unlock()
}

func TestTracker_RecordWaitsForWriteLock(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.CreateDatabase())

	held, err := lockFile(tr.Path() + writeLockSuffix)
	require.NoError(t, err)

	err = tr.Record(context.Background(), genesisA, "A", "0x01", nil, common.Address{})
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, held.unlock())
	require.NoError(t, tr.Record(context.Background(), genesisA, "A", "0x01", nil, common.Address{}))
}

func TestFingerprints(t *testing.T) {
	fp := ContractFingerprint("A", "0x01", nil)
	assert.True(t, strings.HasPrefix(fp, "0x"))
	assert.Len(t, fp, 2+64)
	assert.Equal(t, fp, ContractFingerprint("A", "0x01", nil))

	// name, bytecode and args are concatenated, so shifting bytes between
	// them is not distinguished; the inputs below still differ in content
	assert.NotEqual(t, fp, ContractFingerprint("A", "0x02", nil))
	assert.NotEqual(t, ChainFingerprint(genesisA), ChainFingerprint(genesisB))
}

func TestTracker_ConcurrentRecords(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.CreateDatabase())
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("C%02d", i)
			errs <- tr.Record(ctx, genesisA, name, "0x60", nil, common.BigToAddress(big.NewInt(int64(i+1))))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	contracts, err := tr.Contracts(genesisA)
	require.NoError(t, err)
	assert.Len(t, contracts, writers)
}
