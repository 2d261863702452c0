package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/smelter-dev/smelter/pkg/types"
)

var (
	// ErrNotConnected is returned when a call is made before Dial
	ErrNotConnected = errors.New("not connected")

	// ErrEncodeArgs marks constructor argument encoding failures, which
	// happen before anything is broadcast
	ErrEncodeArgs = errors.New("failed to encode constructor arguments")

	// ErrTransactionFailed is returned when a deployment receipt reports failure
	ErrTransactionFailed = errors.New("transaction failed")
)

// Block is the subset of a block the deployer needs
type Block struct {
	Number *big.Int
	Hash   common.Hash
}

// DeployRequest describes one contract-creation transaction
type DeployRequest struct {
	ABI           abi.ABI
	Bytecode      []byte
	Args          []types.Token
	From          common.Address
	GasPrice      *big.Int
	Gas           uint64
	Confirmations uint64
}

// PendingDeployment is a broadcast contract-creation transaction
type PendingDeployment interface {
	TxHash() common.Hash
	// Wait blocks until the transaction is mined with the requested number
	// of confirmations and returns the created contract address
	Wait(ctx context.Context) (common.Address, error)
}

// Connector is the blockchain access the deployer depends on
type Connector interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	// GenesisBlock returns nil without error when the node has no block 0
	GenesisBlock(ctx context.Context) (*Block, error)
	Deploy(ctx context.Context, req DeployRequest) (PendingDeployment, error)
}

// EncodeDeployment returns the creation payload: bytecode followed by the
// ABI-encoded constructor arguments. The argument types must match the
// constructor inputs declared by the contract ABI.
func EncodeDeployment(contractABI abi.ABI, bytecode []byte, args []types.Token) ([]byte, error) {
	inputs := contractABI.Constructor.Inputs
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("%w: constructor takes %d arguments, got %d", ErrEncodeArgs, len(inputs), len(args))
	}
	for i, input := range inputs {
		if input.Type.String() != args[i].Type.String() {
			return nil, fmt.Errorf("%w: argument %d is %s, constructor expects %s", ErrEncodeArgs, i, args[i].Type, input.Type)
		}
	}

	packed, err := types.TokenArguments(args).Pack(types.TokenValues(args)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeArgs, err)
	}

	data := make([]byte, 0, len(bytecode)+len(packed))
	data = append(data, bytecode...)
	return append(data, packed...), nil
}
