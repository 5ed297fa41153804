package lifecycle

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/digitalocean/godo"
	"go.uber.org/zap"

	"vmbroker/internal/catalog"
	"vmbroker/internal/credentials"
	"vmbroker/internal/logging"
)

// DOManager drives DigitalOcean Droplets. godo exposes its services as
// interfaces, so tests substitute doubles directly.
type DOManager struct {
	droplets godo.DropletsService
	actions  godo.DropletActionsService
	images   godo.ImagesService
}

// NewDOManager builds a manager authenticated with an API token
func NewDOManager(creds credentials.DigitalOceanCredentials) *DOManager {
	client := godo.NewFromToken(creds.Token)
	return &DOManager{
		droplets: client.Droplets,
		actions:  client.DropletActions,
		images:   client.Images,
	}
}

func (m *DOManager) Provider() catalog.Provider {
	return catalog.ProviderDigitalOcean
}

// Provision creates a Droplet and waits for it to become active
func (m *DOManager) Provision(ctx context.Context, spec ProvisionSpec) (*Instance, error) {
	userData, err := GenerateCloudConfig(spec.Username, spec.SSHPublicKey)
	if err != nil {
		return nil, err
	}

	droplet, _, err := m.droplets.Create(ctx, &godo.DropletCreateRequest{
		Name:     spec.Name,
		Region:   spec.Region,
		Size:     spec.InstanceType,
		Image:    godo.DropletCreateImage{Slug: spec.ImageID},
		UserData: userData,
	})
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderDigitalOcean, Op: "provision", Cause: err}
	}

	logging.Logger().Info("created droplet",
		zap.Int("dropletId", droplet.ID), zap.String("size", spec.InstanceType))

	ref := InstanceRef{
		Provider: catalog.ProviderDigitalOcean,
		ID:       strconv.Itoa(droplet.ID),
		Region:   spec.Region,
	}

	var instance *Instance
	err = PollUntil(ctx, 5*time.Second, 5*time.Minute, func(ctx context.Context) (bool, error) {
		instance, err = m.Describe(ctx, ref)
		if err != nil {
			return false, err
		}
		return instance.State == StateRunning, nil
	})
	if err != nil {
		return instance, err
	}
	return instance, nil
}

func (m *DOManager) Describe(ctx context.Context, ref InstanceRef) (*Instance, error) {
	id, err := dropletID(ref)
	if err != nil {
		return nil, err
	}

	droplet, resp, err := m.droplets.Get(ctx, id)
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return nil, ErrInstanceNotFound
		}
		return nil, &ProviderAPIError{Provider: catalog.ProviderDigitalOcean, Op: "describe", Cause: err}
	}

	instance := &Instance{
		Ref:          ref,
		Name:         droplet.Name,
		InstanceType: droplet.SizeSlug,
		State:        doState(droplet.Status),
	}
	if ip, err := droplet.PublicIPv4(); err == nil {
		instance.PublicIP = ip
	}
	if ip, err := droplet.PrivateIPv4(); err == nil {
		instance.PrivateIP = ip
	}
	if t, err := time.Parse(time.RFC3339, droplet.Created); err == nil {
		instance.LaunchedAt = t
	}
	return instance, nil
}

func (m *DOManager) Start(ctx context.Context, ref InstanceRef) error {
	id, err := dropletID(ref)
	if err != nil {
		return err
	}
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("start", instance, StateStopped); err != nil {
		return err
	}

	_, _, err = m.actions.PowerOn(ctx, id)
	return m.mutationErr(ctx, "start", err)
}

func (m *DOManager) Stop(ctx context.Context, ref InstanceRef) error {
	id, err := dropletID(ref)
	if err != nil {
		return err
	}
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("stop", instance, StateRunning); err != nil {
		return err
	}

	_, _, err = m.actions.Shutdown(ctx, id)
	return m.mutationErr(ctx, "stop", err)
}

func (m *DOManager) Reboot(ctx context.Context, ref InstanceRef) error {
	id, err := dropletID(ref)
	if err != nil {
		return err
	}
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("reboot", instance, StateRunning); err != nil {
		return err
	}

	_, _, err = m.actions.Reboot(ctx, id)
	return m.mutationErr(ctx, "reboot", err)
}

func (m *DOManager) Terminate(ctx context.Context, ref InstanceRef) error {
	id, err := dropletID(ref)
	if err != nil {
		return err
	}
	resp, err := m.droplets.Delete(ctx, id)
	if err != nil && resp != nil && resp.StatusCode == 404 {
		return ErrInstanceNotFound
	}
	return m.mutationErr(ctx, "terminate", err)
}

// ModifyType resizes the Droplet. DigitalOcean requires the Droplet to be
// powered off first.
func (m *DOManager) ModifyType(ctx context.Context, ref InstanceRef, newType string) error {
	id, err := dropletID(ref)
	if err != nil {
		return err
	}
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("modify-type", instance, StateStopped); err != nil {
		return err
	}

	_, _, err = m.actions.Resize(ctx, id, newType, false)
	return m.mutationErr(ctx, "modify-type", err)
}

// CreateSnapshot snapshots the Droplet's disk. DigitalOcean snapshots the
// whole Droplet; there is no per-volume root disk selection.
func (m *DOManager) CreateSnapshot(ctx context.Context, ref InstanceRef, description string) (*Snapshot, error) {
	id, err := dropletID(ref)
	if err != nil {
		return nil, err
	}

	name := description
	if name == "" {
		name = ref.ID + "-" + strconv.FormatInt(time.Now().Unix(), 10)
	}
	action, _, err := m.actions.Snapshot(ctx, id, name)
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderDigitalOcean, Op: "create-snapshot", Cause: err}
	}

	return &Snapshot{
		ID:          name,
		Provider:    catalog.ProviderDigitalOcean,
		InstanceID:  ref.ID,
		Description: description,
		State:       action.Status,
		CreatedAt:   time.Now(),
	}, nil
}

func (m *DOManager) ListSnapshots(ctx context.Context, ref InstanceRef) ([]Snapshot, error) {
	id, err := dropletID(ref)
	if err != nil {
		return nil, err
	}

	images, _, err := m.droplets.Snapshots(ctx, id, &godo.ListOptions{PerPage: 200})
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderDigitalOcean, Op: "list-snapshots", Cause: err}
	}

	snapshots := make([]Snapshot, 0, len(images))
	for _, image := range images {
		snapshot := Snapshot{
			ID:         strconv.Itoa(image.ID),
			Provider:   catalog.ProviderDigitalOcean,
			InstanceID: ref.ID,
			State:      image.Status,
			SizeGB:     int64(image.MinDiskSize),
		}
		if t, err := time.Parse(time.RFC3339, image.Created); err == nil {
			snapshot.CreatedAt = t
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (m *DOManager) DeleteSnapshot(ctx context.Context, ref InstanceRef, snapshotID string) error {
	id, err := strconv.Atoi(snapshotID)
	if err != nil {
		return &ProviderAPIError{Provider: catalog.ProviderDigitalOcean, Op: "delete-snapshot",
			Cause: errors.New("snapshot id must be numeric")}
	}
	_, err = m.images.Delete(ctx, id)
	return m.mutationErr(ctx, "delete-snapshot", err)
}

func (m *DOManager) mutationErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		err = errors.Join(err, ErrUncertainOutcome)
	}
	return &ProviderAPIError{Provider: catalog.ProviderDigitalOcean, Op: op, Cause: err}
}

func dropletID(ref InstanceRef) (int, error) {
	id, err := strconv.Atoi(ref.ID)
	if err != nil {
		return 0, &ProviderAPIError{Provider: catalog.ProviderDigitalOcean, Op: "resolve-id",
			Cause: errors.New("droplet id must be numeric")}
	}
	return id, nil
}

func doState(status string) InstanceState {
	switch status {
	case "new":
		return StatePending
	case "active":
		return StateRunning
	case "off":
		return StateStopped
	case "archive":
		return StateTerminated
	default:
		return StateUnknown
	}
}
