// Package deployment deploys the contracts of a project manifest in
// dependency order, skipping versions the tracker has already recorded.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smelter-dev/smelter/internal/chain"
	"github.com/smelter-dev/smelter/internal/config"
	"github.com/smelter-dev/smelter/internal/logging"
	"github.com/smelter-dev/smelter/internal/tracker"
	"github.com/smelter-dev/smelter/pkg/types"
)

const (
	DefaultGasPrice      = 5
	DefaultGasLimit      = 2_000_000
	DefaultConfirmations = 0
)

// Skip reasons reported to the Recorder
const (
	SkipPresetAddress = "preset_address"
	SkipTracked       = "tracked"
	SkipNoArtifact    = "no_artifact"
)

// Tracker is the deployment record the deployer consults
type Tracker interface {
	Exists() bool
	CreateDatabase() error
	Lookup(genesisHash common.Hash, name, bytecode string, args []types.Token) (*tracker.Record, error)
	Record(ctx context.Context, genesisHash common.Hash, name, bytecode string, args []types.Token, address common.Address) error
	Lock(ctx context.Context) (func(), error)
}

// Recorder observes deployment outcomes
type Recorder interface {
	Deployed(name string, elapsed time.Duration)
	Skipped(name, reason string)
	Failed(kind string)
}

type nopRecorder struct{}

func (nopRecorder) Deployed(string, time.Duration) {}
func (nopRecorder) Skipped(string, string)         {}
func (nopRecorder) Failed(string)                  {}

// Config wires a Deployer
type Config struct {
	Project   *config.Project
	Connector chain.Connector
	// Tracker defaults to the tracking database in the project metadata dir
	Tracker  Tracker
	Recorder Recorder
	// MaxConcurrency bounds parallel runs, 0 means unbounded
	MaxConcurrency int
}

// DeployOptions override manifest settings for one run
type DeployOptions struct {
	TrackingEnabled *bool
	Parallel        *bool
}

// Deployer runs deployments for one project
type Deployer struct {
	project        *config.Project
	connector      chain.Connector
	tracker        Tracker
	recorder       Recorder
	maxConcurrency int
}

// NewDeployer creates a deployer
func NewDeployer(cfg Config) *Deployer {
	d := &Deployer{
		project:        cfg.Project,
		connector:      cfg.Connector,
		tracker:        cfg.Tracker,
		recorder:       cfg.Recorder,
		maxConcurrency: cfg.MaxConcurrency,
	}
	if d.tracker == nil {
		d.tracker = tracker.New(cfg.Project.MetadataDir(), tracker.DefaultOptions())
	}
	if d.recorder == nil {
		d.recorder = nopRecorder{}
	}
	return d
}

// Deploy deploys every contract of the manifest that is not already
// deployed. On error the contracts handled before the failure are returned
// along with it; nothing is rolled back.
func (d *Deployer) Deploy(ctx context.Context, opts DeployOptions) (types.DeployedContracts, error) {
	result := make(types.DeployedContracts)
	err := d.deploy(ctx, opts, result)
	if err != nil {
		var de *Error
		if !errors.As(err, &de) {
			err = otherError(err)
		}
		d.recorder.Failed(KindOf(err).String())
	}
	return result, err
}

func (d *Deployer) deploy(ctx context.Context, opts DeployOptions, result types.DeployedContracts) error {
	cfg, err := d.project.Read()
	if err != nil {
		return otherError(err)
	}
	manifest := cfg.Deployment
	if manifest == nil {
		return newError(KindMissingConfig, "", "", nil)
	}

	accounts, err := d.connector.Accounts(ctx)
	if err != nil {
		return connectionError(err)
	}
	if len(accounts) == 0 {
		return connectionError(errors.New("node has no accounts"))
	}

	r := &run{
		deployer:     d,
		manifest:     manifest,
		artifactsDir: cfg.Sources.Artifacts,
		sender:       accounts[0],
		tracking:     boolOr(opts.TrackingEnabled, manifest.TrackingEnabled, true),
		tokenizer:    Tokenizer{MaxArgs: manifest.MaxConstructorArgs},
		addresses:    make(map[string]common.Address),
		result:       result,
	}

	if r.tracking {
		if !d.tracker.Exists() {
			if err := d.tracker.CreateDatabase(); err != nil {
				return trackingError(err)
			}
		}
		unlock, err := d.tracker.Lock(ctx)
		if err != nil {
			return trackingError(err)
		}
		defer unlock()
	}

	var scheduler Scheduler = SequentialScheduler{}
	if boolOr(opts.Parallel, manifest.Parallel, false) {
		scheduler = ParallelScheduler{MaxConcurrency: d.maxConcurrency}
	}

	logging.Info("starting deployment",
		"contracts", len(manifest.SmartContracts),
		"tracking", r.tracking,
		logging.Address(r.sender))

	return scheduler.Run(ctx, manifest.SmartContracts, r.step)
}

// run holds the state of one Deploy call. Steps may run concurrently.
type run struct {
	deployer     *Deployer
	manifest     *config.DeploymentManifest
	artifactsDir string
	sender       common.Address
	tracking     bool
	tokenizer    Tokenizer

	gasPriceOnce sync.Once
	gasPrice     *big.Int

	genesisOnce sync.Once
	genesis     common.Hash
	genesisErr  error

	mu        sync.Mutex
	addresses map[string]common.Address
	result    types.DeployedContracts
}

func (r *run) step(ctx context.Context, spec config.ContractSpec) error {
	d := r.deployer

	if spec.Address != "" {
		if err := config.ValidateAddress(spec.Address); err != nil {
			return newError(KindInvalidAddress, spec.Name, err.Error(), err)
		}
		addr := common.HexToAddress(spec.Address)
		logging.Info("skipping contract with preset address", logging.Contract(spec.Name), logging.Address(addr))
		r.add(types.DeployedContract{Name: spec.Name, Address: addr, ArtifactPath: types.UnknownArtifact, Skipped: true})
		d.recorder.Skipped(spec.Name, SkipPresetAddress)
		return nil
	}

	artifact, err := FindArtifact(d.project, r.artifactsDir, spec)
	if err != nil {
		return err
	}
	if artifact == nil {
		logging.Warn("no artifact found, skipping contract",
			logging.Contract(spec.Name),
			"artifact", spec.ArtifactName())
		d.recorder.Skipped(spec.Name, SkipNoArtifact)
		return nil
	}

	contract, err := artifact.Load()
	if err != nil {
		return err
	}

	tokens, err := r.tokenizer.Tokenize(spec.Name, spec.Args, r.snapshot())
	if err != nil {
		return err
	}

	var genesis common.Hash
	if r.tracking {
		genesis, err = r.chainGenesis(ctx)
		if err != nil {
			return err
		}
		rec, err := d.tracker.Lookup(genesis, spec.Name, contract.Bytecode, tokens)
		if err != nil {
			return trackingError(err)
		}
		if rec != nil {
			logging.Info("skipping tracked contract", logging.Contract(spec.Name), logging.Address(rec.Address))
			r.add(types.DeployedContract{Name: spec.Name, Address: rec.Address, ArtifactPath: artifact.BytecodePath, Skipped: true})
			d.recorder.Skipped(spec.Name, SkipTracked)
			return nil
		}
	}

	gasPrice := r.gasPriceFor(ctx, spec)
	gas := uint64Or(spec.GasLimit, r.manifest.GasLimit, DefaultGasLimit)
	confirmations := uint64Or(nil, r.manifest.TxConfirmations, DefaultConfirmations)

	logging.Info("deploying contract",
		logging.Contract(spec.Name),
		"gas_price", gasPrice.String(),
		"gas", gas,
		"args", len(tokens))

	start := time.Now()
	pending, err := d.connector.Deploy(ctx, chain.DeployRequest{
		ABI:           contract.ABI,
		Bytecode:      contract.Code,
		Args:          tokens,
		From:          r.sender,
		GasPrice:      gasPrice,
		Gas:           gas,
		Confirmations: confirmations,
	})
	if err != nil {
		return newError(KindInvalidConstructorArgs, spec.Name, "", err)
	}

	waitCtx := ctx
	if r.manifest.TxTimeoutSecs > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(r.manifest.TxTimeoutSecs)*time.Second)
		defer cancel()
	}

	addr, err := pending.Wait(waitCtx)
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Operation: logging.AuditContractDeployFailed,
			Contract:  spec.Name,
			Sender:    r.sender.Hex(),
			TxHash:    pending.TxHash().Hex(),
			Details:   err.Error(),
		})
		return newError(KindDeployContract, spec.Name, "", err)
	}
	logging.Audit(logging.AuditEvent{
		Operation: logging.AuditContractDeployed,
		Contract:  spec.Name,
		Sender:    r.sender.Hex(),
		TxHash:    pending.TxHash().Hex(),
		Address:   addr.Hex(),
	})

	if r.tracking {
		if err := d.tracker.Record(ctx, genesis, spec.Name, contract.Bytecode, tokens, addr); err != nil {
			return trackingError(err)
		}
	}

	logging.Info("deployed contract",
		logging.Contract(spec.Name),
		logging.Address(addr),
		logging.TxHash(pending.TxHash()))

	r.add(types.DeployedContract{Name: spec.Name, Address: addr, ArtifactPath: artifact.BytecodePath})
	d.recorder.Deployed(spec.Name, time.Since(start))
	return nil
}

func (r *run) add(c types.DeployedContract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses[c.Name] = c.Address
	r.result[c.Address] = c
}

func (r *run) snapshot() map[string]common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]common.Address, len(r.addresses))
	for k, v := range r.addresses {
		out[k] = v
	}
	return out
}

// gasPriceFor resolves spec, then manifest, then the node's price (asked
// once per run), then the default
func (r *run) gasPriceFor(ctx context.Context, spec config.ContractSpec) *big.Int {
	if spec.GasPrice != nil {
		return new(big.Int).SetUint64(*spec.GasPrice)
	}
	if r.manifest.GasPrice != nil {
		return new(big.Int).SetUint64(*r.manifest.GasPrice)
	}

	r.gasPriceOnce.Do(func() {
		price, err := r.deployer.connector.GasPrice(ctx)
		if err != nil || price == nil {
			logging.Warn("failed to get gas price, using default",
				"default", DefaultGasPrice,
				logging.Err(err))
			r.gasPrice = big.NewInt(DefaultGasPrice)
			return
		}
		r.gasPrice = price
	})
	return new(big.Int).Set(r.gasPrice)
}

func (r *run) chainGenesis(ctx context.Context) (common.Hash, error) {
	r.genesisOnce.Do(func() {
		block, err := r.deployer.connector.GenesisBlock(ctx)
		if err != nil {
			r.genesisErr = connectionError(err)
			return
		}
		if block == nil {
			r.genesisErr = trackingError(errors.New("node reported no genesis block"))
			return
		}
		r.genesis = block.Hash
		logging.Debug("chain fingerprint", logging.Chain(tracker.ChainFingerprint(block.Hash)))
	})
	return r.genesis, r.genesisErr
}

func boolOr(first, second *bool, def bool) bool {
	if first != nil {
		return *first
	}
	if second != nil {
		return *second
	}
	return def
}

func uint64Or(first, second *uint64, def uint64) uint64 {
	if first != nil {
		return *first
	}
	if second != nil {
		return *second
	}
	return def
}

var _ Tracker = (*tracker.Tracker)(nil)

// Summary renders a short summary of a run result
func Summary(contracts types.DeployedContracts) string {
	deployed, skipped := contracts.Counts()
	return fmt.Sprintf("%d deployed, %d skipped", deployed, skipped)
}
