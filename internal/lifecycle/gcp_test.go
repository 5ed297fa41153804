package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
)

// fakeGCPAPI serves one instance. An empty status means the instance does
// not exist. Zone operations complete immediately.
type fakeGCPAPI struct {
	status string

	mutations       int
	waits           int
	lastMachineType string
	snapshotDisk    string
	snapshotLabels  map[string]string
	listFilter      string
}

func (f *fakeGCPAPI) GetInstance(ctx context.Context, zone, name string) (*compute.Instance, error) {
	if f.status == "" {
		return nil, &googleapi.Error{Code: http.StatusNotFound, Message: "not found"}
	}
	return &compute.Instance{
		Name:        name,
		Status:      f.status,
		MachineType: "https://compute.googleapis.com/zones/" + zone + "/machineTypes/e2-medium",
		Disks: []*compute.AttachedDisk{
			{Boot: false, Source: "projects/p/zones/" + zone + "/disks/" + name + "-data"},
			{Boot: true, Source: "projects/p/zones/" + zone + "/disks/" + name},
		},
		NetworkInterfaces: []*compute.NetworkInterface{
			{
				NetworkIP: "10.0.0.7",
				AccessConfigs: []*compute.AccessConfig{
					{NatIP: "203.0.113.20"},
				},
			},
		},
		CreationTimestamp: "2026-08-01T10:00:00Z",
	}, nil
}

func (f *fakeGCPAPI) op() *compute.Operation {
	return &compute.Operation{Name: "op-1", Status: "RUNNING"}
}

func (f *fakeGCPAPI) InsertInstance(ctx context.Context, zone string, instance *compute.Instance) (*compute.Operation, error) {
	f.mutations++
	return f.op(), nil
}

func (f *fakeGCPAPI) StartInstance(ctx context.Context, zone, name string) (*compute.Operation, error) {
	f.mutations++
	return f.op(), nil
}

func (f *fakeGCPAPI) StopInstance(ctx context.Context, zone, name string) (*compute.Operation, error) {
	f.mutations++
	return f.op(), nil
}

func (f *fakeGCPAPI) ResetInstance(ctx context.Context, zone, name string) (*compute.Operation, error) {
	f.mutations++
	return f.op(), nil
}

func (f *fakeGCPAPI) DeleteInstance(ctx context.Context, zone, name string) (*compute.Operation, error) {
	f.mutations++
	if f.status == "" {
		return nil, &googleapi.Error{Code: http.StatusNotFound, Message: "not found"}
	}
	return f.op(), nil
}

func (f *fakeGCPAPI) SetMachineType(ctx context.Context, zone, name, machineType string) (*compute.Operation, error) {
	f.mutations++
	f.lastMachineType = machineType
	return f.op(), nil
}

func (f *fakeGCPAPI) CreateDiskSnapshot(ctx context.Context, zone, disk string, snapshot *compute.Snapshot) (*compute.Operation, error) {
	f.mutations++
	f.snapshotDisk = disk
	f.snapshotLabels = snapshot.Labels
	return f.op(), nil
}

func (f *fakeGCPAPI) ListSnapshots(ctx context.Context, filter string) ([]*compute.Snapshot, error) {
	f.listFilter = filter
	return []*compute.Snapshot{
		{
			Name:              "web-1-1756500000",
			Status:            "READY",
			DiskSizeGb:        20,
			CreationTimestamp: "2026-08-29T00:00:00Z",
		},
	}, nil
}

func (f *fakeGCPAPI) DeleteSnapshot(ctx context.Context, name string) (*compute.Operation, error) {
	f.mutations++
	return f.op(), nil
}

func (f *fakeGCPAPI) GetZoneOperation(ctx context.Context, zone, name string) (*compute.Operation, error) {
	f.waits++
	return &compute.Operation{Name: name, Status: "DONE"}, nil
}

func newGCPTestManager(fake *fakeGCPAPI) *GCPManager {
	return &GCPManager{api: fake, project: "test-project"}
}

func gcpRef() InstanceRef {
	return InstanceRef{Provider: "gcp", ID: "web-1", Region: "europe-west1", Zone: "europe-west1-b"}
}

func TestGCPStartRequiresStopped(t *testing.T) {
	fake := &fakeGCPAPI{status: "RUNNING"}
	manager := newGCPTestManager(fake)

	err := manager.Start(context.Background(), gcpRef())

	var precondition *PreconditionError
	if !errors.As(err, &precondition) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if precondition.CurrentState != StateRunning {
		t.Errorf("current state = %q, want running", precondition.CurrentState)
	}
	if fake.mutations != 0 {
		t.Errorf("expected no mutating API calls, got %d", fake.mutations)
	}
}

func TestGCPStartStoppedInstance(t *testing.T) {
	// A stopped Compute Engine instance reports TERMINATED
	fake := &fakeGCPAPI{status: "TERMINATED"}
	manager := newGCPTestManager(fake)

	if err := manager.Start(context.Background(), gcpRef()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if fake.mutations != 1 {
		t.Errorf("expected one mutating API call, got %d", fake.mutations)
	}
}

func TestGCPPowerCommandsReturnOnAccept(t *testing.T) {
	fake := &fakeGCPAPI{status: "TERMINATED"}
	manager := newGCPTestManager(fake)

	if err := manager.Start(context.Background(), gcpRef()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fake.status = "RUNNING"
	if err := manager.Stop(context.Background(), gcpRef()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := manager.Reboot(context.Background(), gcpRef()); err != nil {
		t.Fatalf("Reboot: %v", err)
	}

	// Power commands return once the operation is accepted; the caller
	// observes the transition through Describe
	if fake.waits != 0 {
		t.Errorf("expected no operation polling, got %d waits", fake.waits)
	}
}

func TestGCPModifyTypeRejectsRunningInstance(t *testing.T) {
	fake := &fakeGCPAPI{status: "RUNNING"}
	manager := newGCPTestManager(fake)

	err := manager.ModifyType(context.Background(), gcpRef(), "e2-standard-4")

	var precondition *PreconditionError
	if !errors.As(err, &precondition) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if fake.mutations != 0 {
		t.Errorf("expected no mutating API calls, got %d", fake.mutations)
	}
}

func TestGCPModifyTypeStopped(t *testing.T) {
	fake := &fakeGCPAPI{status: "TERMINATED"}
	manager := newGCPTestManager(fake)

	if err := manager.ModifyType(context.Background(), gcpRef(), "e2-standard-4"); err != nil {
		t.Fatalf("ModifyType: %v", err)
	}
	if !strings.HasSuffix(fake.lastMachineType, "/machineTypes/e2-standard-4") {
		t.Errorf("machine type = %q", fake.lastMachineType)
	}
}

func TestGCPDescribe(t *testing.T) {
	manager := newGCPTestManager(&fakeGCPAPI{status: "RUNNING"})

	instance, err := manager.Describe(context.Background(), gcpRef())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if instance.InstanceType != "e2-medium" {
		t.Errorf("instance type = %q, want e2-medium", instance.InstanceType)
	}
	if instance.PublicIP != "203.0.113.20" {
		t.Errorf("public ip = %q", instance.PublicIP)
	}
	if instance.PrivateIP != "10.0.0.7" {
		t.Errorf("private ip = %q", instance.PrivateIP)
	}
}

func TestGCPDescribeNotFound(t *testing.T) {
	manager := newGCPTestManager(&fakeGCPAPI{})

	_, err := manager.Describe(context.Background(), gcpRef())
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestGCPTerminateNotFound(t *testing.T) {
	manager := newGCPTestManager(&fakeGCPAPI{})

	err := manager.Terminate(context.Background(), gcpRef())
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestGCPCreateSnapshotUsesBootDisk(t *testing.T) {
	fake := &fakeGCPAPI{status: "RUNNING"}
	manager := newGCPTestManager(fake)

	snapshot, err := manager.CreateSnapshot(context.Background(), gcpRef(), "before resize")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if fake.snapshotDisk != "web-1" {
		t.Errorf("snapshot disk = %q, want web-1", fake.snapshotDisk)
	}
	if fake.snapshotLabels["instance"] != "web-1" {
		t.Errorf("snapshot labels = %v, want instance=web-1", fake.snapshotLabels)
	}
	if !strings.HasPrefix(snapshot.ID, "web-1-") {
		t.Errorf("snapshot id = %q, want web-1- prefix", snapshot.ID)
	}
}

func TestGCPListSnapshotsFiltersByInstance(t *testing.T) {
	fake := &fakeGCPAPI{status: "RUNNING"}
	manager := newGCPTestManager(fake)

	snapshots, err := manager.ListSnapshots(context.Background(), gcpRef())
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if fake.listFilter != "labels.instance=web-1" {
		t.Errorf("filter = %q", fake.listFilter)
	}
	if len(snapshots) != 1 || snapshots[0].SizeGB != 20 {
		t.Errorf("snapshots = %+v", snapshots)
	}
}

func TestGCPStateMapping(t *testing.T) {
	tests := []struct {
		in   string
		want InstanceState
	}{
		{"PROVISIONING", StatePending},
		{"STAGING", StatePending},
		{"RUNNING", StateRunning},
		{"STOPPING", StateStopping},
		{"TERMINATED", StateStopped},
		{"SUSPENDED", StateStopped},
		{"REPAIRING", StateUnknown},
	}
	for _, tt := range tests {
		if got := gcpState(tt.in); got != tt.want {
			t.Errorf("gcpState(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLastPathSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"projects/p/zones/z/machineTypes/e2-medium", "e2-medium"},
		{"e2-medium", "e2-medium"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := lastPathSegment(tt.in); got != tt.want {
			t.Errorf("lastPathSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
