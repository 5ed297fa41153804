package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"vmbroker/internal/catalog"
	"vmbroker/internal/credentials"
	"vmbroker/internal/logging"
)

// gcpComputeAPI is the slice of the Compute Engine API the manager needs.
// Satisfied by the real service wrapper and by test doubles. Instance refs
// carry the name in ID because Compute Engine addresses instances by name.
type gcpComputeAPI interface {
	GetInstance(ctx context.Context, zone, name string) (*compute.Instance, error)
	InsertInstance(ctx context.Context, zone string, instance *compute.Instance) (*compute.Operation, error)
	StartInstance(ctx context.Context, zone, name string) (*compute.Operation, error)
	StopInstance(ctx context.Context, zone, name string) (*compute.Operation, error)
	ResetInstance(ctx context.Context, zone, name string) (*compute.Operation, error)
	DeleteInstance(ctx context.Context, zone, name string) (*compute.Operation, error)
	SetMachineType(ctx context.Context, zone, name, machineType string) (*compute.Operation, error)
	CreateDiskSnapshot(ctx context.Context, zone, disk string, snapshot *compute.Snapshot) (*compute.Operation, error)
	ListSnapshots(ctx context.Context, filter string) ([]*compute.Snapshot, error)
	DeleteSnapshot(ctx context.Context, name string) (*compute.Operation, error)
	GetZoneOperation(ctx context.Context, zone, name string) (*compute.Operation, error)
}

type gcpService struct {
	service *compute.Service
	project string
}

func (s *gcpService) GetInstance(ctx context.Context, zone, name string) (*compute.Instance, error) {
	return s.service.Instances.Get(s.project, zone, name).Context(ctx).Do()
}

func (s *gcpService) InsertInstance(ctx context.Context, zone string, instance *compute.Instance) (*compute.Operation, error) {
	return s.service.Instances.Insert(s.project, zone, instance).Context(ctx).Do()
}

func (s *gcpService) StartInstance(ctx context.Context, zone, name string) (*compute.Operation, error) {
	return s.service.Instances.Start(s.project, zone, name).Context(ctx).Do()
}

func (s *gcpService) StopInstance(ctx context.Context, zone, name string) (*compute.Operation, error) {
	return s.service.Instances.Stop(s.project, zone, name).Context(ctx).Do()
}

func (s *gcpService) ResetInstance(ctx context.Context, zone, name string) (*compute.Operation, error) {
	return s.service.Instances.Reset(s.project, zone, name).Context(ctx).Do()
}

func (s *gcpService) DeleteInstance(ctx context.Context, zone, name string) (*compute.Operation, error) {
	return s.service.Instances.Delete(s.project, zone, name).Context(ctx).Do()
}

func (s *gcpService) SetMachineType(ctx context.Context, zone, name, machineType string) (*compute.Operation, error) {
	req := &compute.InstancesSetMachineTypeRequest{
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", zone, machineType),
	}
	return s.service.Instances.SetMachineType(s.project, zone, name, req).Context(ctx).Do()
}

func (s *gcpService) CreateDiskSnapshot(ctx context.Context, zone, disk string, snapshot *compute.Snapshot) (*compute.Operation, error) {
	return s.service.Disks.CreateSnapshot(s.project, zone, disk, snapshot).Context(ctx).Do()
}

func (s *gcpService) ListSnapshots(ctx context.Context, filter string) ([]*compute.Snapshot, error) {
	var snapshots []*compute.Snapshot
	call := s.service.Snapshots.List(s.project)
	if filter != "" {
		call = call.Filter(filter)
	}
	err := call.Pages(ctx, func(page *compute.SnapshotList) error {
		snapshots = append(snapshots, page.Items...)
		return nil
	})
	return snapshots, err
}

func (s *gcpService) DeleteSnapshot(ctx context.Context, name string) (*compute.Operation, error) {
	return s.service.Snapshots.Delete(s.project, name).Context(ctx).Do()
}

func (s *gcpService) GetZoneOperation(ctx context.Context, zone, name string) (*compute.Operation, error) {
	return s.service.ZoneOperations.Get(s.project, zone, name).Context(ctx).Do()
}

// GCPManager drives Compute Engine instances in one project
type GCPManager struct {
	api     gcpComputeAPI
	project string
}

// NewGCPManager builds a manager authenticated with a service account file
func NewGCPManager(ctx context.Context, creds credentials.GCPCredentials) (*GCPManager, error) {
	service, err := compute.NewService(ctx, option.WithCredentialsFile(creds.FilePath))
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderGCP, Op: "configure", Cause: err}
	}

	return &GCPManager{
		api:     &gcpService{service: service, project: creds.ProjectID},
		project: creds.ProjectID,
	}, nil
}

func (m *GCPManager) Provider() catalog.Provider {
	return catalog.ProviderGCP
}

// Provision inserts an instance and waits until it is running
func (m *GCPManager) Provision(ctx context.Context, spec ProvisionSpec) (*Instance, error) {
	userData, err := GenerateCloudConfig(spec.Username, spec.SSHPublicKey)
	if err != nil {
		return nil, err
	}

	diskSize := spec.DiskSizeGB
	if diskSize == 0 {
		diskSize = 20
	}

	instance := &compute.Instance{
		Name:        spec.Name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", spec.Zone, spec.InstanceType),
		Disks: []*compute.AttachedDisk{
			{
				AutoDelete: true,
				Boot:       true,
				Type:       "PERSISTENT",
				InitializeParams: &compute.AttachedDiskInitializeParams{
					SourceImage: spec.ImageID,
					DiskSizeGb:  diskSize,
				},
			},
		},
		NetworkInterfaces: []*compute.NetworkInterface{
			{
				AccessConfigs: []*compute.AccessConfig{
					{Type: "ONE_TO_ONE_NAT", Name: "External NAT"},
				},
				Network: "global/networks/default",
			},
		},
		Metadata: &compute.Metadata{
			Items: []*compute.MetadataItems{
				{Key: "user-data", Value: &userData},
			},
		},
	}

	op, err := m.api.InsertInstance(ctx, spec.Zone, instance)
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderGCP, Op: "provision", Cause: err}
	}
	if err := m.waitForOperation(ctx, spec.Zone, op.Name); err != nil {
		return nil, err
	}

	logging.Logger().Info("inserted gcp instance",
		zap.String("name", spec.Name), zap.String("zone", spec.Zone))

	ref := InstanceRef{Provider: catalog.ProviderGCP, ID: spec.Name, Region: spec.Region, Zone: spec.Zone}
	return m.Describe(ctx, ref)
}

func (m *GCPManager) Describe(ctx context.Context, ref InstanceRef) (*Instance, error) {
	inst, err := m.api.GetInstance(ctx, ref.Zone, ref.ID)
	if err != nil {
		if isGCPNotFound(err) {
			return nil, ErrInstanceNotFound
		}
		return nil, &ProviderAPIError{Provider: catalog.ProviderGCP, Op: "describe", Cause: err}
	}

	instance := &Instance{
		Ref:          ref,
		Name:         inst.Name,
		InstanceType: lastPathSegment(inst.MachineType),
		State:        gcpState(inst.Status),
	}
	if len(inst.NetworkInterfaces) > 0 {
		instance.PrivateIP = inst.NetworkInterfaces[0].NetworkIP
		if len(inst.NetworkInterfaces[0].AccessConfigs) > 0 {
			instance.PublicIP = inst.NetworkInterfaces[0].AccessConfigs[0].NatIP
		}
	}
	if inst.CreationTimestamp != "" {
		if t, err := time.Parse(time.RFC3339, inst.CreationTimestamp); err == nil {
			instance.LaunchedAt = t
		}
	}
	return instance, nil
}

func (m *GCPManager) Start(ctx context.Context, ref InstanceRef) error {
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("start", instance, StateStopped); err != nil {
		return err
	}

	// Return once the operation is accepted; callers poll via Describe
	op, err := m.api.StartInstance(ctx, ref.Zone, ref.ID)
	if err != nil {
		return m.mutationErr(ctx, "start", err)
	}
	logging.Logger().Debug("start accepted",
		zap.String("instance", ref.ID), zap.String("operation", op.Name))
	return nil
}

func (m *GCPManager) Stop(ctx context.Context, ref InstanceRef) error {
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("stop", instance, StateRunning); err != nil {
		return err
	}

	op, err := m.api.StopInstance(ctx, ref.Zone, ref.ID)
	if err != nil {
		return m.mutationErr(ctx, "stop", err)
	}
	logging.Logger().Debug("stop accepted",
		zap.String("instance", ref.ID), zap.String("operation", op.Name))
	return nil
}

func (m *GCPManager) Reboot(ctx context.Context, ref InstanceRef) error {
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("reboot", instance, StateRunning); err != nil {
		return err
	}

	op, err := m.api.ResetInstance(ctx, ref.Zone, ref.ID)
	if err != nil {
		return m.mutationErr(ctx, "reboot", err)
	}
	logging.Logger().Debug("reboot accepted",
		zap.String("instance", ref.ID), zap.String("operation", op.Name))
	return nil
}

func (m *GCPManager) Terminate(ctx context.Context, ref InstanceRef) error {
	op, err := m.api.DeleteInstance(ctx, ref.Zone, ref.ID)
	if err != nil {
		if isGCPNotFound(err) {
			return ErrInstanceNotFound
		}
		return m.mutationErr(ctx, "terminate", err)
	}
	return m.waitForOperation(ctx, ref.Zone, op.Name)
}

// ModifyType changes the machine type. Compute Engine only allows this on
// a stopped instance.
func (m *GCPManager) ModifyType(ctx context.Context, ref InstanceRef, newType string) error {
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("modify-type", instance, StateStopped); err != nil {
		return err
	}

	op, err := m.api.SetMachineType(ctx, ref.Zone, ref.ID, newType)
	if err != nil {
		return m.mutationErr(ctx, "modify-type", err)
	}
	return m.waitForOperation(ctx, ref.Zone, op.Name)
}

// CreateSnapshot snapshots the instance's boot disk. The boot disk of a
// Compute Engine instance created by this engine shares the instance name.
func (m *GCPManager) CreateSnapshot(ctx context.Context, ref InstanceRef, description string) (*Snapshot, error) {
	inst, err := m.api.GetInstance(ctx, ref.Zone, ref.ID)
	if err != nil {
		if isGCPNotFound(err) {
			return nil, ErrInstanceNotFound
		}
		return nil, &ProviderAPIError{Provider: catalog.ProviderGCP, Op: "create-snapshot", Cause: err}
	}

	bootDisk := ""
	for _, disk := range inst.Disks {
		if disk.Boot {
			bootDisk = lastPathSegment(disk.Source)
			break
		}
	}
	if bootDisk == "" {
		return nil, &ProviderAPIError{Provider: catalog.ProviderGCP, Op: "create-snapshot",
			Cause: errors.New("instance has no boot disk")}
	}

	snapshotName := fmt.Sprintf("%s-%d", ref.ID, time.Now().Unix())
	op, err := m.api.CreateDiskSnapshot(ctx, ref.Zone, bootDisk, &compute.Snapshot{
		Name:        snapshotName,
		Description: description,
		Labels:      map[string]string{"instance": ref.ID},
	})
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderGCP, Op: "create-snapshot", Cause: err}
	}
	if err := m.waitForOperation(ctx, ref.Zone, op.Name); err != nil {
		return nil, err
	}

	return &Snapshot{
		ID:          snapshotName,
		Provider:    catalog.ProviderGCP,
		InstanceID:  ref.ID,
		Description: description,
		State:       "READY",
		CreatedAt:   time.Now(),
	}, nil
}

func (m *GCPManager) ListSnapshots(ctx context.Context, ref InstanceRef) ([]Snapshot, error) {
	filter := fmt.Sprintf("labels.instance=%s", ref.ID)
	items, err := m.api.ListSnapshots(ctx, filter)
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderGCP, Op: "list-snapshots", Cause: err}
	}

	snapshots := make([]Snapshot, 0, len(items))
	for _, item := range items {
		snapshot := Snapshot{
			ID:          item.Name,
			Provider:    catalog.ProviderGCP,
			InstanceID:  ref.ID,
			Description: item.Description,
			State:       item.Status,
			SizeGB:      item.DiskSizeGb,
		}
		if t, err := time.Parse(time.RFC3339, item.CreationTimestamp); err == nil {
			snapshot.CreatedAt = t
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (m *GCPManager) DeleteSnapshot(ctx context.Context, ref InstanceRef, snapshotID string) error {
	_, err := m.api.DeleteSnapshot(ctx, snapshotID)
	if err != nil {
		return m.mutationErr(ctx, "delete-snapshot", err)
	}
	return nil
}

func (m *GCPManager) waitForOperation(ctx context.Context, zone, opName string) error {
	return PollUntil(ctx, 5*time.Second, 5*time.Minute, func(ctx context.Context) (bool, error) {
		op, err := m.api.GetZoneOperation(ctx, zone, opName)
		if err != nil {
			return false, &ProviderAPIError{Provider: catalog.ProviderGCP, Op: "wait", Cause: err}
		}
		if op.Status != "DONE" {
			return false, nil
		}
		if op.Error != nil && len(op.Error.Errors) > 0 {
			return false, &ProviderAPIError{Provider: catalog.ProviderGCP, Op: "wait",
				Cause: fmt.Errorf("operation failed: %s", op.Error.Errors[0].Message)}
		}
		return true, nil
	})
}

func (m *GCPManager) mutationErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		err = errors.Join(err, ErrUncertainOutcome)
	}
	return &ProviderAPIError{Provider: catalog.ProviderGCP, Op: op, Cause: err}
}

// gcpState maps Compute Engine statuses to normalized states. A stopped
// Compute Engine instance reports TERMINATED; actual deletion manifests as
// a 404, not a status.
func gcpState(status string) InstanceState {
	switch status {
	case "PROVISIONING", "STAGING":
		return StatePending
	case "RUNNING":
		return StateRunning
	case "STOPPING", "SUSPENDING":
		return StateStopping
	case "TERMINATED", "SUSPENDED":
		return StateStopped
	default:
		return StateUnknown
	}
}

func isGCPNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func lastPathSegment(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}
