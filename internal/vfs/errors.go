package vfs

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, vfs.ErrNotFound) and friends to
// classify; the typed errors below unwrap to these.
var (
	ErrNotFound      = errors.New("vfs: node not found")
	ErrConflict      = errors.New("vfs: name conflict")
	ErrConfiguration = errors.New("vfs: invalid configuration")

	// Structural violations: caller misuse, fatal to the call, never retried.
	ErrNotFolder = errors.New("vfs: parent is not a folder")
	ErrIsFolder  = errors.New("vfs: node is a folder")
	ErrRootNode  = errors.New("vfs: operation not allowed on the root node")
	ErrTrashed   = errors.New("vfs: node is trashed")
	ErrLineage   = errors.New("vfs: destination is inside the source's subtree")
	ErrNoChange  = errors.New("vfs: neither new parent nor new name given")

	// ErrInvalidName rejects names no path can address: empty, "." or
	// "..", or containing a separator.
	ErrInvalidName = errors.New("vfs: invalid node name")

	// ErrTransferInvalid marks a transfer the remote will never accept.
	ErrTransferInvalid = errors.New("vfs: invalid transfer")
)

// StructuralError reports an operation that would break a tree invariant.
// Err is one of the structural sentinels.
type StructuralError struct {
	Op   string
	Node *Node
	Err  error
}

func (e *StructuralError) Error() string {
	if e.Node != nil {
		return fmt.Sprintf("%s %q (%s): %v", e.Op, e.Node.Name, e.Node.ID, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// ConflictError reports a name collision. Node is the remote node already
// occupying the name when known; Path is set when the occupant is local.
type ConflictError struct {
	Node *Node
	Path string
}

func (e *ConflictError) Error() string {
	switch {
	case e.Node != nil:
		return fmt.Sprintf("vfs: %q already exists (%s)", e.Node.Name, e.Node.ID)
	case e.Path != "":
		return fmt.Sprintf("vfs: %s already exists and is not a regular file", e.Path)
	default:
		return ErrConflict.Error()
	}
}

// Is makes errors.Is(err, ErrConflict) match any ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ConfigurationError is raised at startup for bad driver names, protocol
// version mismatches and invalid settings. It is never retried.
type ConfigurationError struct {
	Subject string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("vfs: configuring %s: %v", e.Subject, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConfiguration) match any ConfigurationError.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// TransferError wraps a failure during a chunked transfer. Invalid errors
// are final; all others are transient and may be retried by the transfer
// helpers.
type TransferError struct {
	Invalid bool
	Err     error
}

func (e *TransferError) Error() string {
	if e.Invalid {
		return fmt.Sprintf("vfs: invalid transfer: %v", e.Err)
	}

	return fmt.Sprintf("vfs: transfer interrupted: %v", e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransferInvalid) match invalid transfers.
func (e *TransferError) Is(target error) bool {
	return e.Invalid && target == ErrTransferInvalid
}

// IsConflict returns the ConflictError inside err, if any.
func IsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}

	return nil, false
}
