package lifecycle

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"go.uber.org/zap"

	"vmbroker/internal/catalog"
	"vmbroker/internal/credentials"
	"vmbroker/internal/logging"
)

// ec2API is the slice of the EC2 client the manager needs. Satisfied by
// *ec2.Client and by test doubles.
type ec2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	RebootInstances(ctx context.Context, params *ec2.RebootInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)
}

// AWSManager drives EC2 instances in one region
type AWSManager struct {
	client ec2API
	region string
}

// NewAWSManager builds a manager for one AWS region with static credentials
func NewAWSManager(ctx context.Context, creds credentials.AWSCredentials, region string) (*AWSManager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderAWS, Op: "configure", Cause: err}
	}

	return &AWSManager{client: ec2.NewFromConfig(cfg), region: region}, nil
}

func (m *AWSManager) Provider() catalog.Provider {
	return catalog.ProviderAWS
}

// Provision launches an instance and waits for it to leave the pending
// state
func (m *AWSManager) Provision(ctx context.Context, spec ProvisionSpec) (*Instance, error) {
	userData, err := GenerateCloudConfig(spec.Username, spec.SSHPublicKey)
	if err != nil {
		return nil, err
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: ec2types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString([]byte(userData))),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(spec.Name)},
				},
			},
		},
	}
	if spec.DiskSizeGB > 0 {
		input.BlockDeviceMappings = []ec2types.BlockDeviceMapping{
			{
				DeviceName: aws.String("/dev/sda1"),
				Ebs: &ec2types.EbsBlockDevice{
					VolumeSize:          aws.Int32(int32(spec.DiskSizeGB)),
					VolumeType:          ec2types.VolumeTypeGp3,
					DeleteOnTermination: aws.Bool(true),
				},
			},
		}
	}

	output, err := m.client.RunInstances(ctx, input)
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderAWS, Op: "provision", Cause: err}
	}
	instanceID := aws.ToString(output.Instances[0].InstanceId)
	ref := InstanceRef{Provider: catalog.ProviderAWS, ID: instanceID, Region: m.region}

	logging.Logger().Info("launched aws instance",
		zap.String("instanceId", instanceID), zap.String("type", spec.InstanceType))

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

func (m *AWSManager) Describe(ctx context.Context, ref InstanceRef) (*Instance, error) {
	output, err := m.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{ref.ID},
	})
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderAWS, Op: "describe", Cause: err}
	}
	if len(output.Reservations) == 0 || len(output.Reservations[0].Instances) == 0 {
		return nil, ErrInstanceNotFound
	}

	inst := output.Reservations[0].Instances[0]
	instance := &Instance{
		Ref: InstanceRef{
			Provider: catalog.ProviderAWS,
			ID:       aws.ToString(inst.InstanceId),
			Region:   m.region,
			Zone:     aws.ToString(inst.Placement.AvailabilityZone),
		},
		InstanceType: string(inst.InstanceType),
		State:        awsState(inst.State.Name),
		PublicIP:     aws.ToString(inst.PublicIpAddress),
		PrivateIP:    aws.ToString(inst.PrivateIpAddress),
	}
	if inst.LaunchTime != nil {
		instance.LaunchedAt = *inst.LaunchTime
	}
	for _, tag := range inst.Tags {
		if aws.ToString(tag.Key) == "Name" {
			instance.Name = aws.ToString(tag.Value)
		}
	}
	return instance, nil
}

func (m *AWSManager) Start(ctx context.Context, ref InstanceRef) error {
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("start", instance, StateStopped); err != nil {
		return err
	}

	_, err = m.client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{ref.ID}})
	return m.mutationErr(ctx, "start", err)
}

func (m *AWSManager) Stop(ctx context.Context, ref InstanceRef) error {
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("stop", instance, StateRunning); err != nil {
		return err
	}

	_, err = m.client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{ref.ID}})
	return m.mutationErr(ctx, "stop", err)
}

func (m *AWSManager) Reboot(ctx context.Context, ref InstanceRef) error {
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("reboot", instance, StateRunning); err != nil {
		return err
	}

	_, err = m.client.RebootInstances(ctx, &ec2.RebootInstancesInput{InstanceIds: []string{ref.ID}})
	return m.mutationErr(ctx, "reboot", err)
}

func (m *AWSManager) Terminate(ctx context.Context, ref InstanceRef) error {
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if instance.State == StateTerminated {
		return &PreconditionError{Op: "terminate", RequiredState: "any non-terminated", CurrentState: StateTerminated}
	}

	_, err = m.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{ref.ID}})
	return m.mutationErr(ctx, "terminate", err)
}

// ModifyType changes the instance type. The instance must be stopped; a
// running instance is rejected before any API mutation.
func (m *AWSManager) ModifyType(ctx context.Context, ref InstanceRef, newType string) error {
	instance, err := m.Describe(ctx, ref)
	if err != nil {
		return err
	}
	if err := requireState("modify-type", instance, StateStopped); err != nil {
		return err
	}

	_, err = m.client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:   aws.String(ref.ID),
		InstanceType: &ec2types.AttributeValue{Value: aws.String(newType)},
	})
	return m.mutationErr(ctx, "modify-type", err)
}

// CreateSnapshot snapshots the instance's root volume
func (m *AWSManager) CreateSnapshot(ctx context.Context, ref InstanceRef, description string) (*Snapshot, error) {
	volumeID, err := m.rootVolumeID(ctx, ref)
	if err != nil {
		return nil, err
	}

	output, err := m.client.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(description),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeSnapshot,
				Tags: []ec2types.Tag{
					{Key: aws.String("InstanceId"), Value: aws.String(ref.ID)},
				},
			},
		},
	})
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderAWS, Op: "create-snapshot", Cause: err}
	}

	snapshot := &Snapshot{
		ID:          aws.ToString(output.SnapshotId),
		Provider:    catalog.ProviderAWS,
		InstanceID:  ref.ID,
		Description: description,
		State:       string(output.State),
		SizeGB:      int64(aws.ToInt32(output.VolumeSize)),
	}
	if output.StartTime != nil {
		snapshot.CreatedAt = *output.StartTime
	}
	return snapshot, nil
}

func (m *AWSManager) ListSnapshots(ctx context.Context, ref InstanceRef) ([]Snapshot, error) {
	output, err := m.client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:InstanceId"), Values: []string{ref.ID}},
		},
	})
	if err != nil {
		return nil, &ProviderAPIError{Provider: catalog.ProviderAWS, Op: "list-snapshots", Cause: err}
	}

	snapshots := make([]Snapshot, 0, len(output.Snapshots))
	for _, s := range output.Snapshots {
		snapshot := Snapshot{
			ID:          aws.ToString(s.SnapshotId),
			Provider:    catalog.ProviderAWS,
			InstanceID:  ref.ID,
			Description: aws.ToString(s.Description),
			State:       string(s.State),
			SizeGB:      int64(aws.ToInt32(s.VolumeSize)),
		}
		if s.StartTime != nil {
			snapshot.CreatedAt = *s.StartTime
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (m *AWSManager) DeleteSnapshot(ctx context.Context, ref InstanceRef, snapshotID string) error {
	_, err := m.client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{
		SnapshotId: aws.String(snapshotID),
	})
	return m.mutationErr(ctx, "delete-snapshot", err)
}

// rootVolumeID finds the volume attached as the instance's root device
func (m *AWSManager) rootVolumeID(ctx context.Context, ref InstanceRef) (string, error) {
	output, err := m.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("attachment.instance-id"), Values: []string{ref.ID}},
		},
	})
	if err != nil {
		return "", &ProviderAPIError{Provider: catalog.ProviderAWS, Op: "describe-volumes", Cause: err}
	}
	if len(output.Volumes) == 0 {
		return "", &ProviderAPIError{Provider: catalog.ProviderAWS, Op: "describe-volumes", Cause: errors.New("no volumes attached to instance")}
	}

	// Prefer the volume attached at the root device; fall back to the first
	for _, volume := range output.Volumes {
		for _, attachment := range volume.Attachments {
			device := aws.ToString(attachment.Device)
			if device == "/dev/sda1" || device == "/dev/xvda" {
				return aws.ToString(volume.VolumeId), nil
			}
		}
	}
	return aws.ToString(output.Volumes[0].VolumeId), nil
}

// mutationErr wraps a provider error from a mutating call, tagging it with
// ErrUncertainOutcome when the context expired mid-call
func (m *AWSManager) mutationErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		err = errors.Join(err, ErrUncertainOutcome)
	}
	return &ProviderAPIError{Provider: catalog.ProviderAWS, Op: op, Cause: err}
}

func awsState(name ec2types.InstanceStateName) InstanceState {
	switch name {
	case ec2types.InstanceStateNamePending:
		return StatePending
	case ec2types.InstanceStateNameRunning:
		return StateRunning
	case ec2types.InstanceStateNameStopping, ec2types.InstanceStateNameShuttingDown:
		return StateStopping
	case ec2types.InstanceStateNameStopped:
		return StateStopped
	case ec2types.InstanceStateNameTerminated:
		return StateTerminated
	default:
		return StateUnknown
	}
}
