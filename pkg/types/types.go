package types

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// UnknownArtifact is reported as the artifact path of contracts whose address
// was preset in the manifest rather than deployed from an artifact pair.
const UnknownArtifact = "unknown"

// DeployedContract describes one contract handled during a deploy run
type DeployedContract struct {
	Name         string         `json:"name" yaml:"name"`
	Address      common.Address `json:"address" yaml:"address"`
	ArtifactPath string         `json:"artifact_path" yaml:"artifact_path"`
	Skipped      bool           `json:"skipped" yaml:"skipped"` // true when no transaction was sent
}

// DeployedContracts is the result of a deploy run, keyed by contract address.
// It is only used for reporting; the tracker keeps the durable record.
type DeployedContracts map[common.Address]DeployedContract

// Sorted returns the contracts ordered by name, then address.
func (d DeployedContracts) Sorted() []DeployedContract {
	out := make([]DeployedContract, 0, len(d))
	for _, c := range d {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Address.Hex() < out[j].Address.Hex()
	})
	return out
}

// Counts returns the number of deployed and skipped contracts.
func (d DeployedContracts) Counts() (deployed, skipped int) {
	for _, c := range d {
		if c.Skipped {
			skipped++
		} else {
			deployed++
		}
	}
	return deployed, skipped
}
