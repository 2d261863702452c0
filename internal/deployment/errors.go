package deployment

import (
	"errors"
	"fmt"
)

// Kind classifies deployment errors
type Kind int

const (
	KindOther Kind = iota
	KindMissingConfig
	KindCyclicDependency
	KindMissingConfigForReference
	KindMissingArtifact
	KindMissingABIPath
	KindMissingBytecodePath
	KindInvalidAddress
	KindInvalidParamType
	KindTokenizeParam
	KindTooManyConstructorArgs
	KindInvalidConstructorArgs
	KindDeployContract
	KindConnection
	KindTracking
)

var kindNames = map[Kind]string{
	KindOther:                     "other",
	KindMissingConfig:             "missing_config",
	KindCyclicDependency:          "cyclic_dependency",
	KindMissingConfigForReference: "missing_config_for_reference",
	KindMissingArtifact:           "missing_artifact",
	KindMissingABIPath:            "missing_abi_path",
	KindMissingBytecodePath:       "missing_bytecode_path",
	KindInvalidAddress:            "invalid_address",
	KindInvalidParamType:          "invalid_param_type",
	KindTokenizeParam:             "tokenize_param",
	KindTooManyConstructorArgs:    "too_many_constructor_args",
	KindInvalidConstructorArgs:    "invalid_constructor_args",
	KindDeployContract:            "deploy_contract",
	KindConnection:                "connection",
	KindTracking:                  "tracking",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Sentinel errors for errors.Is matching on the kind of an *Error
var (
	ErrMissingConfig             = &Error{Kind: KindMissingConfig}
	ErrCyclicDependency          = &Error{Kind: KindCyclicDependency}
	ErrMissingConfigForReference = &Error{Kind: KindMissingConfigForReference}
	ErrMissingArtifact           = &Error{Kind: KindMissingArtifact}
	ErrMissingABIPath            = &Error{Kind: KindMissingABIPath}
	ErrMissingBytecodePath       = &Error{Kind: KindMissingBytecodePath}
	ErrInvalidAddress            = &Error{Kind: KindInvalidAddress}
	ErrInvalidParamType          = &Error{Kind: KindInvalidParamType}
	ErrTokenizeParam             = &Error{Kind: KindTokenizeParam}
	ErrTooManyConstructorArgs    = &Error{Kind: KindTooManyConstructorArgs}
	ErrInvalidConstructorArgs    = &Error{Kind: KindInvalidConstructorArgs}
	ErrDeployContract            = &Error{Kind: KindDeployContract}
	ErrConnection                = &Error{Kind: KindConnection}
	ErrTracking                  = &Error{Kind: KindTracking}
)

// ErrUnresolvedReference is wrapped when a $name argument points at a
// contract that has no address in the current run
var ErrUnresolvedReference = errors.New("unresolved contract reference")

// Error is a deployment failure. Name is the contract (or referenced
// contract) involved, Reason a human readable detail, Value the offending
// input where one exists, Err the underlying cause.
type Error struct {
	Kind   Kind
	Name   string
	Reason string
	Value  string
	Err    error
}

func (e *Error) Error() string {
	cause := e.Reason
	if cause == "" && e.Err != nil {
		cause = e.Err.Error()
	}

	switch e.Kind {
	case KindMissingConfig:
		return "missing deployment configuration"
	case KindCyclicDependency:
		return fmt.Sprintf("couldn't deploy contracts due to a cyclic dependency in '%s'", e.Name)
	case KindMissingConfigForReference:
		return fmt.Sprintf("couldn't find contract configuration for reference '%s'", e.Name)
	case KindMissingArtifact:
		return fmt.Sprintf("couldn't find %s file for artifact '%s'", e.Reason, e.Name)
	case KindMissingABIPath:
		return fmt.Sprintf("missing abi_path for contract configuration '%s'", e.Name)
	case KindMissingBytecodePath:
		return fmt.Sprintf("missing bytecode_path for contract configuration '%s'", e.Name)
	case KindInvalidAddress:
		return fmt.Sprintf("invalid address in contract configuration for '%s': %s", e.Name, cause)
	case KindInvalidParamType:
		return fmt.Sprintf("couldn't read constructor parameter type: %s", cause)
	case KindTokenizeParam:
		return fmt.Sprintf("couldn't tokenize constructor parameter: %s with value %q", cause, e.Value)
	case KindTooManyConstructorArgs:
		return fmt.Sprintf("couldn't deploy contract '%s' due to too many constructor arguments", e.Name)
	case KindInvalidConstructorArgs:
		return fmt.Sprintf("couldn't deploy contract '%s' due to mismatching constructor arguments: %s", e.Name, cause)
	case KindDeployContract:
		return fmt.Sprintf("couldn't deploy contract '%s': %s", e.Name, cause)
	case KindConnection:
		return fmt.Sprintf("connection error: %s", cause)
	case KindTracking:
		return fmt.Sprintf("couldn't track deployed contracts: %s", cause)
	default:
		return cause
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Name == "" && t.Reason == "" && t.Value == "" && t.Err == nil
}

func newError(kind Kind, name, reason string, err error) *Error {
	return &Error{Kind: kind, Name: name, Reason: reason, Err: err}
}

func cyclicDependency(name string) error {
	return newError(KindCyclicDependency, name, "", nil)
}

func missingReference(name string) error {
	return newError(KindMissingConfigForReference, name, "", nil)
}

func missingArtifact(kind, path string) error {
	return newError(KindMissingArtifact, path, kind, nil)
}

func invalidParamType(err error) error {
	return newError(KindInvalidParamType, "", "", err)
}

func tokenizeParam(err error, value string) error {
	return &Error{Kind: KindTokenizeParam, Value: value, Err: err}
}

func connectionError(err error) error {
	return newError(KindConnection, "", "", err)
}

func trackingError(err error) error {
	return newError(KindTracking, "", "", err)
}

func otherError(err error) error {
	return newError(KindOther, "", "", err)
}

// KindOf returns the kind of a deployment error, or KindOther
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindOther
}
