// Package tracker persists which contract versions have been deployed to
// which chain, so repeated deploy runs only send what changed.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/smelter-dev/smelter/internal/logging"
	"github.com/smelter-dev/smelter/pkg/types"
	"golang.org/x/crypto/sha3"
)

const (
	// FileName is the tracking document inside the project metadata dir
	FileName = "tracking.toml"

	writeLockSuffix = ".lock"
	runLockName     = "deploy.lock"
)

var (
	// ErrDatabaseNotFound is returned when the tracking document does not exist
	ErrDatabaseNotFound = errors.New("tracking database not found")

	// ErrLocked is returned when a lock is held by another process
	ErrLocked = errors.New("tracking database is locked")
)

// Record is one tracked deployment
type Record struct {
	Name    string         `toml:"name" json:"name" yaml:"name"`
	Address common.Address `toml:"address" json:"address" yaml:"address"`
}

// document maps chain fingerprint -> contract fingerprint -> record
type document map[string]map[string]Record

// Options tunes lock acquisition
type Options struct {
	LockAttempts uint
	LockDelay    time.Duration
}

// DefaultOptions returns the lock settings used by the CLI
func DefaultOptions() Options {
	return Options{
		LockAttempts: 5,
		LockDelay:    100 * time.Millisecond,
	}
}

// Tracker is the on-disk deployment record of one project
type Tracker struct {
	dir  string
	path string
	opts Options

	// mu queues writers of this process; the file lock only separates
	// processes
	mu sync.Mutex
}

// New returns a tracker storing its document in dir
func New(dir string, opts Options) *Tracker {
	if opts.LockAttempts == 0 {
		opts.LockAttempts = 1
	}
	if opts.LockDelay <= 0 {
		opts.LockDelay = DefaultOptions().LockDelay
	}
	return &Tracker{
		dir:  dir,
		path: filepath.Join(dir, FileName),
		opts: opts,
	}
}

// Path returns the tracking document path
func (t *Tracker) Path() string {
	return t.path
}

// Exists reports whether the tracking document exists
func (t *Tracker) Exists() bool {
	_, err := os.Stat(t.path)
	return err == nil
}

// CreateDatabase creates an empty tracking document. It is a no-op when one
// already exists.
func (t *Tracker) CreateDatabase() error {
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("failed to create tracking database: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to create tracking database: %w", err)
	}

	logging.Debug("created tracking database", logging.Path(t.path))
	return nil
}

// ChainFingerprint returns the outer key for a chain
func ChainFingerprint(genesisHash common.Hash) string {
	return digest(genesisHash.Bytes())
}

// ContractFingerprint returns the inner key for one contract version. Any
// change to name, bytecode or arguments yields a different key.
func ContractFingerprint(name, bytecode string, args []types.Token) string {
	var buf bytes.Buffer
	buf.WriteString(name)
	buf.WriteString(bytecode)
	buf.WriteString(types.JoinTokens(args))
	return digest(buf.Bytes())
}

func digest(data []byte) string {
	sum := sha3.Sum256(data)
	return fmt.Sprintf("0x%x", sum[:])
}

// Lookup returns the record for a contract version on a chain, or nil when
// it has not been deployed there
func (t *Tracker) Lookup(genesisHash common.Hash, name, bytecode string, args []types.Token) (*Record, error) {
	doc, err := t.read()
	if err != nil {
		return nil, err
	}

	contracts, ok := doc[ChainFingerprint(genesisHash)]
	if !ok {
		return nil, nil
	}
	rec, ok := contracts[ContractFingerprint(name, bytecode, args)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Record stores the address a contract version was deployed at. The whole
// document is rewritten under the write lock.
func (t *Tracker) Record(ctx context.Context, genesisHash common.Hash, name, bytecode string, args []types.Token, address common.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	unlock, err := t.acquire(ctx, t.path+writeLockSuffix)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := t.read()
	if err != nil {
		return err
	}

	chainKey := ChainFingerprint(genesisHash)
	if doc[chainKey] == nil {
		doc[chainKey] = make(map[string]Record)
	}
	doc[chainKey][ContractFingerprint(name, bytecode, args)] = Record{Name: name, Address: address}

	if err := t.write(doc); err != nil {
		return err
	}

	logging.Debug("tracked deployment",
		logging.Contract(name),
		logging.Address(address),
		logging.Chain(chainKey))
	return nil
}

// Contracts returns every record tracked for a chain, keyed by contract
// fingerprint
func (t *Tracker) Contracts(genesisHash common.Hash) (map[string]Record, error) {
	doc, err := t.read()
	if err != nil {
		return nil, err
	}
	contracts := doc[ChainFingerprint(genesisHash)]
	if contracts == nil {
		return map[string]Record{}, nil
	}
	return contracts, nil
}

// Lock takes the run-level lock that keeps two deploy runs on the same
// project apart. The returned function releases it.
func (t *Tracker) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	return t.acquire(ctx, filepath.Join(t.dir, runLockName))
}

func (t *Tracker) acquire(ctx context.Context, path string) (func(), error) {
	var lock *fileLock
	err := retry.Do(
		func() error {
			l, err := lockFile(path)
			if err != nil {
				if errors.Is(err, ErrLocked) {
					return err
				}
				return retry.Unrecoverable(err)
			}
			lock = l
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(t.opts.LockAttempts),
		retry.Delay(t.opts.LockDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(t.opts.LockDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	return func() {
		if err := lock.unlock(); err != nil {
			logging.Warn("failed to release lock", logging.Path(path), logging.Err(err))
		}
	}, nil
}

func (t *Tracker) read() (document, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, t.path)
		}
		return nil, fmt.Errorf("failed to read tracking database: %w", err)
	}

	doc := make(document)
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode tracking database: %w", err)
	}
	return doc, nil
}

func (t *Tracker) write(doc document) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode tracking database: %w", err)
	}

	tmp, err := os.CreateTemp(t.dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp tracking file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tracking database: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync tracking database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close tracking database: %w", err)
	}

	if err := os.Rename(tmpPath, t.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace tracking database: %w", err)
	}
	return nil
}
