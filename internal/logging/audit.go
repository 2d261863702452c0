package logging

// AuditEvent is a transaction the deployer sent on chain
type AuditEvent struct {
	Operation string // "contract_deployed" or "contract_deploy_failed"
	Contract  string // manifest name
	Sender    string // account the transaction was sent from
	TxHash    string
	Address   string // created contract, empty on failure
	Details   string
}

// Audit operations
const (
	AuditContractDeployed     = "contract_deployed"
	AuditContractDeployFailed = "contract_deploy_failed"
)

// Audit logs a sent transaction with an "audit" attribute so audit records
// can be filtered out of the regular log stream. Failures log at warn level.
func Audit(event AuditEvent) {
	args := []any{
		"audit", true,
		"operation", event.Operation,
		"contract", event.Contract,
		"sender", event.Sender,
		"tx_hash", event.TxHash,
	}
	if event.Address != "" {
		args = append(args, "address", event.Address)
	}
	if event.Details != "" {
		args = append(args, "details", event.Details)
	}

	if event.Operation == AuditContractDeployFailed {
		Logger().Warn("audit", args...)
		return
	}
	Logger().Info("audit", args...)
}
