package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/smelter-dev/smelter/internal/tracker"
	"github.com/spf13/cobra"
)

// NewTrackingCmd creates the command listing tracked deployments
func NewTrackingCmd() *cobra.Command {
	var genesis string

	cmd := &cobra.Command{
		Use:   "tracking",
		Short: "List tracked deployments",
		Long: `List the contracts recorded in the tracking database for one chain.

The chain is the one the project connector points to, unless --genesis gives
its genesis block hash directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracking(cmd, genesis)
		},
	}

	cmd.Flags().StringVar(&genesis, "genesis", "", "Genesis block hash of the chain (skips querying the node)")
	return cmd
}

// TrackedContract is one row of the tracking listing
type TrackedContract struct {
	Fingerprint string         `json:"fingerprint" yaml:"fingerprint"`
	Name        string         `json:"name" yaml:"name"`
	Address     common.Address `json:"address" yaml:"address"`
}

// TrackingReport is the structured form of the tracking listing
type TrackingReport struct {
	Chain     string            `json:"chain" yaml:"chain"`
	Contracts []TrackedContract `json:"contracts" yaml:"contracts"`
}

func runTracking(cmd *cobra.Command, genesis string) error {
	project, cfg, err := openProject()
	if err != nil {
		return err
	}

	var hash common.Hash
	if genesis != "" {
		b, err := hexutil.Decode(genesis)
		if err != nil || len(b) != common.HashLength {
			return fmt.Errorf("invalid genesis hash: %s", genesis)
		}
		hash = common.BytesToHash(b)
	} else {
		client, err := dialChain(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		block, err := client.GenesisBlock(cmd.Context())
		if err != nil {
			return err
		}
		if block == nil {
			return fmt.Errorf("node returned no genesis block")
		}
		hash = block.Hash
	}

	t := tracker.New(project.MetadataDir(), tracker.DefaultOptions())
	if !t.Exists() {
		return fmt.Errorf("%w at %s", tracker.ErrDatabaseNotFound, t.Path())
	}
	records, err := t.Contracts(hash)
	if err != nil {
		return err
	}

	report := TrackingReport{
		Chain:     tracker.ChainFingerprint(hash),
		Contracts: make([]TrackedContract, 0, len(records)),
	}
	for fp, r := range records {
		report.Contracts = append(report.Contracts, TrackedContract{Fingerprint: fp, Name: r.Name, Address: r.Address})
	}
	sort.Slice(report.Contracts, func(i, j int) bool {
		a, b := report.Contracts[i], report.Contracts[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Fingerprint < b.Fingerprint
	})

	return printTracking(cmd.OutOrStdout(), report)
}

func printTracking(w io.Writer, report TrackingReport) error {
	if structuredOutput() {
		return writeStructured(w, report)
	}

	fmt.Fprintln(w, StatusBox("Tracking", [][2]string{
		{"Chain", FormatFingerprint(report.Chain)},
		{"Contracts", fmt.Sprintf("%d", len(report.Contracts))},
	}))
	if len(report.Contracts) == 0 {
		fmt.Fprintln(w, Hint("No contracts tracked for this chain yet"))
		return nil
	}

	rows := make([][]string, 0, len(report.Contracts))
	for _, c := range report.Contracts {
		rows = append(rows, []string{c.Name, c.Address.Hex(), FormatFingerprint(c.Fingerprint)})
	}
	fmt.Fprint(w, RenderTable([]string{"CONTRACT", "ADDRESS", "FINGERPRINT"}, rows))
	return nil
}
