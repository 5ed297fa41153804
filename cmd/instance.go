package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmbroker/internal/catalog"
	"vmbroker/internal/config"
	"vmbroker/internal/credentials"
	"vmbroker/internal/lifecycle"
	"vmbroker/internal/logging"
	"vmbroker/internal/ssh"
)

var (
	instanceProvider string
	instanceRegion   string
	instanceZone     string

	provisionName     string
	provisionType     string
	provisionImage    string
	provisionDiskSize int64

	modifyNewType string

	snapshotDescription string
)

// instanceCmd represents the instance command
var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage the lifecycle of provisioned instances",
	Long: `Provision, inspect, power-cycle, resize, snapshot, and terminate instances.
Every mutating operation validates the instance state first, so a request
that cannot succeed is rejected before anything is changed at the provider.`,
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a new instance",
	Run: func(cmd *cobra.Command, args []string) {
		manager, cfg := buildManager(cmd)

		keyPair, err := ssh.GetOrGenerateKeyPair(cfg.KeyDir)
		if err != nil {
			logging.Logger().Fatal("Failed to prepare SSH keys", zap.Error(err))
		}

		name := provisionName
		if name == "" {
			name = "vmbroker-" + uuid.NewString()[:8]
		}
		image := provisionImage
		if image == "" {
			image = cfg.DefaultImage
		}
		diskSize := provisionDiskSize
		if diskSize == 0 {
			diskSize = cfg.DefaultDiskSize
		}

		instance, err := manager.Provision(cmd.Context(), lifecycle.ProvisionSpec{
			Name:         name,
			Region:       instanceRegion,
			Zone:         instanceZone,
			InstanceType: provisionType,
			ImageID:      image,
			DiskSizeGB:   diskSize,
			Username:     cfg.DefaultUsername,
			SSHPublicKey: keyPair.PublicKey,
		})
		if err != nil {
			logging.Logger().Fatal("Provisioning failed", zap.Error(err))
		}

		printInstance(instance)
		fmt.Printf("SSH: ssh -i %s %s@%s\n", keyPair.PrivateKeyPath, cfg.DefaultUsername, instance.PublicIP)
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe [instance-id]",
	Short: "Show the current state of an instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manager, _ := buildManager(cmd)

		instance, err := manager.Describe(cmd.Context(), instanceRef(args[0]))
		if err != nil {
			logging.Logger().Fatal("Describe failed", zap.Error(err))
		}
		printInstance(instance)
	},
}

var startCmd = &cobra.Command{
	Use:   "start [instance-id]",
	Short: "Start a stopped instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manager, _ := buildManager(cmd)
		runMutation("start", manager.Start(cmd.Context(), instanceRef(args[0])))
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [instance-id]",
	Short: "Stop a running instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manager, _ := buildManager(cmd)
		runMutation("stop", manager.Stop(cmd.Context(), instanceRef(args[0])))
	},
}

var rebootCmd = &cobra.Command{
	Use:   "reboot [instance-id]",
	Short: "Reboot a running instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manager, _ := buildManager(cmd)
		runMutation("reboot", manager.Reboot(cmd.Context(), instanceRef(args[0])))
	},
}

var terminateCmd = &cobra.Command{
	Use:   "terminate [instance-id]",
	Short: "Terminate an instance permanently",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manager, _ := buildManager(cmd)
		runMutation("terminate", manager.Terminate(cmd.Context(), instanceRef(args[0])))
	},
}

var modifyTypeCmd = &cobra.Command{
	Use:   "modify-type [instance-id]",
	Short: "Change the instance type of a stopped instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manager, _ := buildManager(cmd)
		runMutation("modify-type", manager.ModifyType(cmd.Context(), instanceRef(args[0]), modifyNewType))
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage instance disk snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create [instance-id]",
	Short: "Snapshot the instance's root disk",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manager, _ := buildManager(cmd)

		snapshot, err := manager.CreateSnapshot(cmd.Context(), instanceRef(args[0]), snapshotDescription)
		if err != nil {
			logging.Logger().Fatal("Snapshot failed", zap.Error(err))
		}
		fmt.Printf("Snapshot %s created (%s).\n", snapshot.ID, snapshot.State)
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list [instance-id]",
	Short: "List snapshots of an instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		manager, _ := buildManager(cmd)

		snapshots, err := manager.ListSnapshots(cmd.Context(), instanceRef(args[0]))
		if err != nil {
			logging.Logger().Fatal("Failed to list snapshots", zap.Error(err))
		}
		if len(snapshots) == 0 {
			fmt.Println("No snapshots.")
			return
		}

		fmt.Printf("%-24s %-12s %8s %-25s %s\n", "ID", "State", "Size", "Created", "Description")
		for _, s := range snapshots {
			fmt.Printf("%-24s %-12s %6dGB %-25s %s\n",
				s.ID, s.State, s.SizeGB, s.CreatedAt.Format("2006-01-02 15:04:05 MST"), s.Description)
		}
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete [instance-id] [snapshot-id]",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		manager, _ := buildManager(cmd)
		runMutation("delete snapshot", manager.DeleteSnapshot(cmd.Context(), instanceRef(args[0]), args[1]))
	},
}

func init() {
	rootCmd.AddCommand(instanceCmd)

	instanceCmd.PersistentFlags().StringVar(&instanceProvider, "provider", "", "Provider (AWS, GCP, DO)")
	instanceCmd.PersistentFlags().StringVar(&instanceRegion, "region", "", "Provider region")
	instanceCmd.PersistentFlags().StringVar(&instanceZone, "zone", "", "Provider zone")
	if err := instanceCmd.MarkPersistentFlagRequired("provider"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}

	provisionCmd.Flags().StringVar(&provisionName, "name", "", "Instance name (generated if empty)")
	provisionCmd.Flags().StringVar(&provisionType, "type", "", "Instance type (required)")
	provisionCmd.Flags().StringVar(&provisionImage, "image", "", "Image ID (defaults to config)")
	provisionCmd.Flags().Int64Var(&provisionDiskSize, "disk", 0, "Root disk size in GB (defaults to config)")
	if err := provisionCmd.MarkFlagRequired("type"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}

	modifyTypeCmd.Flags().StringVar(&modifyNewType, "type", "", "New instance type (required)")
	if err := modifyTypeCmd.MarkFlagRequired("type"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}

	snapshotCreateCmd.Flags().StringVar(&snapshotDescription, "description", "", "Snapshot description")

	instanceCmd.AddCommand(provisionCmd, describeCmd, startCmd, stopCmd,
		rebootCmd, terminateCmd, modifyTypeCmd, snapshotCmd)
	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotListCmd, snapshotDeleteCmd)
}

// buildManager resolves the lifecycle manager for the --provider flag
func buildManager(cmd *cobra.Command) (lifecycle.Manager, *config.Config) {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
	}

	provider := parseProvider(instanceProvider)
	store := credentials.NewStore(cfg.CredentialsDir)
	manager, err := lifecycle.New(cmd.Context(), provider, store, instanceRegion)
	if err != nil {
		logging.Logger().Fatal("Failed to build lifecycle manager", zap.Error(err))
	}
	return manager, cfg
}

func parseProvider(s string) catalog.Provider {
	switch strings.ToUpper(s) {
	case "AWS":
		return catalog.ProviderAWS
	case "GCP":
		return catalog.ProviderGCP
	case "DO", "DIGITALOCEAN":
		return catalog.ProviderDigitalOcean
	default:
		return catalog.Provider(s)
	}
}

func instanceRef(id string) lifecycle.InstanceRef {
	return lifecycle.InstanceRef{
		Provider: parseProvider(instanceProvider),
		ID:       id,
		Region:   instanceRegion,
		Zone:     instanceZone,
	}
}

func runMutation(op string, err error) {
	if err != nil {
		logging.Logger().Fatal("Operation failed", zap.String("op", op), zap.Error(err))
	}
	fmt.Printf("Request to %s accepted.\n", op)
}

func printInstance(instance *lifecycle.Instance) {
	fmt.Printf("Instance:  %s\n", instance.Ref.ID)
	fmt.Printf("Name:      %s\n", instance.Name)
	fmt.Printf("Provider:  %s\n", instance.Ref.Provider)
	fmt.Printf("Region:    %s", instance.Ref.Region)
	if instance.Ref.Zone != "" {
		fmt.Printf(" (%s)", instance.Ref.Zone)
	}
	fmt.Println()
	fmt.Printf("Type:      %s\n", instance.InstanceType)
	fmt.Printf("State:     %s\n", instance.State)
	if instance.PublicIP != "" {
		fmt.Printf("Public IP: %s\n", instance.PublicIP)
	}
	if instance.PrivateIP != "" {
		fmt.Printf("PrivateIP: %s\n", instance.PrivateIP)
	}
	if !instance.LaunchedAt.IsZero() {
		fmt.Printf("Launched:  %s\n", instance.LaunchedAt.Format("2006-01-02 15:04:05 MST"))
	}
}
