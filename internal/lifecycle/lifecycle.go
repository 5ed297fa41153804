// Package lifecycle manages provisioned instances across providers:
// provision, power operations, type changes, snapshots, and teardown.
// Every operation validates the instance state before mutating anything,
// so an invalid request never reaches the provider API.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vmbroker/internal/catalog"
)

// InstanceState is the normalized lifecycle state of an instance
type InstanceState string

const (
	StatePending    InstanceState = "pending"
	StateRunning    InstanceState = "running"
	StateStopping   InstanceState = "stopping"
	StateStopped    InstanceState = "stopped"
	StateTerminated InstanceState = "terminated"
	StateUnknown    InstanceState = "unknown"
)

// InstanceRef identifies an instance at its provider. Region and Zone are
// required because provider APIs are region-scoped.
type InstanceRef struct {
	Provider catalog.Provider `json:"provider"`
	ID       string           `json:"id"`
	Region   string           `json:"region"`
	Zone     string           `json:"zone,omitempty"`
}

func (r InstanceRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Provider, r.Region, r.ID)
}

// Instance is the normalized view of a provisioned VM
type Instance struct {
	Ref          InstanceRef   `json:"ref"`
	Name         string        `json:"name"`
	InstanceType string        `json:"instanceType"`
	State        InstanceState `json:"state"`
	PublicIP     string        `json:"publicIp,omitempty"`
	PrivateIP    string        `json:"privateIp,omitempty"`
	LaunchedAt   time.Time     `json:"launchedAt,omitempty"`
}

// ProvisionSpec describes the instance to create
type ProvisionSpec struct {
	Name         string `json:"name"`
	Region       string `json:"region"`
	Zone         string `json:"zone,omitempty"`
	InstanceType string `json:"instanceType"`
	ImageID      string `json:"imageId"`
	DiskSizeGB   int64  `json:"diskSizeGb,omitempty"`
	Username     string `json:"username"`
	SSHPublicKey string `json:"sshPublicKey,omitempty"`
}

// Snapshot is a point-in-time copy of an instance's root disk
type Snapshot struct {
	ID          string           `json:"id"`
	Provider    catalog.Provider `json:"provider"`
	InstanceID  string           `json:"instanceId,omitempty"`
	Description string           `json:"description,omitempty"`
	State       string           `json:"state"`
	SizeGB      int64            `json:"sizeGb,omitempty"`
	CreatedAt   time.Time        `json:"createdAt,omitempty"`
}

// Manager drives the lifecycle of instances at one provider
type Manager interface {
	Provider() catalog.Provider
	Provision(ctx context.Context, spec ProvisionSpec) (*Instance, error)
	Describe(ctx context.Context, ref InstanceRef) (*Instance, error)
	Start(ctx context.Context, ref InstanceRef) error
	Stop(ctx context.Context, ref InstanceRef) error
	Reboot(ctx context.Context, ref InstanceRef) error
	Terminate(ctx context.Context, ref InstanceRef) error
	ModifyType(ctx context.Context, ref InstanceRef, newType string) error
	CreateSnapshot(ctx context.Context, ref InstanceRef, description string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, ref InstanceRef) ([]Snapshot, error)
	DeleteSnapshot(ctx context.Context, ref InstanceRef, snapshotID string) error
}

// PreconditionError reports an operation rejected because the instance is
// not in the state the operation requires. Nothing was mutated.
type PreconditionError struct {
	Op            string
	RequiredState InstanceState
	CurrentState  InstanceState
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s requires instance state %q, current state is %q",
		e.Op, e.RequiredState, e.CurrentState)
}

// ProviderAPIError wraps a failure from a provider API call
type ProviderAPIError struct {
	Provider catalog.Provider
	Op       string
	Cause    error
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Cause)
}

func (e *ProviderAPIError) Unwrap() error {
	return e.Cause
}

// ErrUncertainOutcome signals that a mutating call may or may not have
// taken effect at the provider. Callers must re-describe the instance
// before retrying.
var ErrUncertainOutcome = errors.New("operation outcome uncertain, describe the instance before retrying")

// ErrInstanceNotFound is returned when the referenced instance does not
// exist at the provider
var ErrInstanceNotFound = errors.New("instance not found")

// requireState returns a PreconditionError unless the instance is in the
// required state
func requireState(op string, instance *Instance, required InstanceState) error {
	if instance.State != required {
		return &PreconditionError{
			Op:            op,
			RequiredState: required,
			CurrentState:  instance.State,
		}
	}
	return nil
}
