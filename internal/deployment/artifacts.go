package deployment

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/smelter-dev/smelter/internal/config"
)

const (
	// ExtBytecode and ExtABI are the compiled artifact extensions
	ExtBytecode = ".bin"
	ExtABI      = ".abi"
)

// Artifact is a compiled contract: bytecode file plus its ABI file
type Artifact struct {
	BytecodePath string
	ABIPath      string
}

// Contract is a loaded artifact ready to deploy
type Contract struct {
	ABI abi.ABI
	// Bytecode is the trimmed file content, as fingerprinted by the tracker
	Bytecode string
	Code     []byte
}

// FindArtifact locates the artifact pair for spec. Explicit paths win;
// otherwise artifactsDir is searched for files whose stem is the spec's
// artifact name. A nil artifact with no error means nothing matched.
func FindArtifact(project *config.Project, artifactsDir string, spec config.ContractSpec) (*Artifact, error) {
	switch {
	case spec.AbiPath != "" && spec.BytecodePath != "":
		a := &Artifact{
			BytecodePath: project.Resolve(spec.BytecodePath),
			ABIPath:      project.Resolve(spec.AbiPath),
		}
		if !fileExists(a.BytecodePath) {
			return nil, missingArtifact(strings.TrimPrefix(ExtBytecode, "."), a.BytecodePath)
		}
		if !fileExists(a.ABIPath) {
			return nil, missingArtifact(strings.TrimPrefix(ExtABI, "."), a.ABIPath)
		}
		return a, nil
	case spec.AbiPath != "":
		return nil, newError(KindMissingBytecodePath, spec.Name, "", nil)
	case spec.BytecodePath != "":
		return nil, newError(KindMissingABIPath, spec.Name, "", nil)
	}

	dir := project.Resolve(artifactsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, otherError(fmt.Errorf("failed to read artifacts directory: %w", err))
	}

	stem := spec.ArtifactName()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ExtBytecode && ext != ExtABI {
			continue
		}
		if strings.TrimSuffix(entry.Name(), ext) != stem {
			continue
		}

		base := filepath.Join(dir, stem)
		a := &Artifact{BytecodePath: base + ExtBytecode, ABIPath: base + ExtABI}
		if ext == ExtBytecode && !fileExists(a.ABIPath) {
			return nil, missingArtifact(strings.TrimPrefix(ExtABI, "."), a.BytecodePath)
		}
		if ext == ExtABI && !fileExists(a.BytecodePath) {
			return nil, missingArtifact(strings.TrimPrefix(ExtBytecode, "."), a.ABIPath)
		}
		return a, nil
	}

	return nil, nil
}

// Load reads and parses both artifact files
func (a *Artifact) Load() (*Contract, error) {
	abiFile, err := os.Open(a.ABIPath)
	if err != nil {
		return nil, otherError(fmt.Errorf("failed to open abi: %w", err))
	}
	defer abiFile.Close()

	parsed, err := abi.JSON(abiFile)
	if err != nil {
		return nil, otherError(fmt.Errorf("failed to parse abi %s: %w", a.ABIPath, err))
	}

	data, err := os.ReadFile(a.BytecodePath)
	if err != nil {
		return nil, otherError(fmt.Errorf("failed to read bytecode: %w", err))
	}
	bytecode := strings.TrimSpace(string(data))

	code, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(bytecode, "0x"), "0X"))
	if err != nil {
		return nil, otherError(fmt.Errorf("failed to decode bytecode %s: %w", a.BytecodePath, err))
	}

	return &Contract{ABI: parsed, Bytecode: bytecode, Code: code}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
