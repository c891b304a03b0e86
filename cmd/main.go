package main

import (
	"fmt"
	"os"

	disko "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/disks"
	"github.com/dargueta/gofat/driver"
	"github.com/dargueta/gofat/drivers/fat"
	"github.com/dargueta/gofat/internal/fuseadapter"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gofatutil",
	Short: "Inspect, format, and browse FAT12/16/32 disk images",
}

func main() {
	rootCmd.AddCommand(newFormatCommand())
	rootCmd.AddCommand(newMkfsCommand())
	rootCmd.AddCommand(newLsCommand())
	rootCmd.AddCommand(newCatCommand())
	rootCmd.AddCommand(newFsckCommand())
	rootCmd.AddCommand(newLabelCommand())
	rootCmd.AddCommand(newMountCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newFormatCommand() *cobra.Command {
	var geometrySlug string
	var sizeBytes int64
	var label string

	cmd := &cobra.Command{
		Use:   "format IMAGE_PATH",
		Short: "Create a new FAT12/16/32 file system in IMAGE_PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blockSize := int64(512)
			totalBlocks := uint64(0)

			if geometrySlug != "" {
				geometry, err := disks.GetPredefinedDiskGeometry(geometrySlug)
				if err != nil {
					return err
				}
				totalBlocks = uint64(geometry.TotalSizeBytes() / blockSize)
			} else if sizeBytes > 0 {
				totalBlocks = uint64(sizeBytes / blockSize)
			} else {
				return fmt.Errorf("specify either --geometry or --size")
			}

			imagePath := args[0]
			image, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE, 0o666)
			if err != nil {
				return err
			}
			defer image.Close()

			if err := image.Truncate(int64(totalBlocks) * blockSize); err != nil {
				return err
			}

			volume := &fat.Volume{}
			stat := disko.FSStat{BlockSize: blockSize, TotalBlocks: totalBlocks, Label: label}
			if formatErr := volume.FormatImage(image, stat); formatErr != nil {
				return formatErr
			}

			fmt.Printf("formatted %s (%d bytes)\n", imagePath, totalBlocks*uint64(blockSize))
			return nil
		},
	}

	cmd.Flags().StringVar(&geometrySlug, "geometry", "", "use a predefined disk geometry slug (see disks package)")
	cmd.Flags().Int64Var(&sizeBytes, "size", 0, "image size in bytes, if not using --geometry")
	cmd.Flags().StringVar(&label, "label", "", "volume label")
	return cmd
}

// newMkfsCommand formats IMAGE_PATH with a single partition: an MBR in
// sector 0 describing it, with the FAT12/16/32 volume itself starting at
// sector 1. Use `format` instead for a plain "superfloppy" image with no
// partition table.
func newMkfsCommand() *cobra.Command {
	var geometrySlug string
	var sizeBytes int64
	var label string
	var systemID uint8

	cmd := &cobra.Command{
		Use:   "mkfs IMAGE_PATH",
		Short: "Create a partitioned FAT12/16/32 disk image in IMAGE_PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blockSize := int64(512)
			totalBlocks := uint64(0)

			if geometrySlug != "" {
				geometry, err := disks.GetPredefinedDiskGeometry(geometrySlug)
				if err != nil {
					return err
				}
				totalBlocks = uint64(geometry.TotalSizeBytes() / blockSize)
			} else if sizeBytes > 0 {
				totalBlocks = uint64(sizeBytes / blockSize)
			} else {
				return fmt.Errorf("specify either --geometry or --size")
			}

			imagePath := args[0]
			image, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE, 0o666)
			if err != nil {
				return err
			}
			defer image.Close()

			if err := image.Truncate(int64(totalBlocks) * blockSize); err != nil {
				return err
			}

			stat := disko.FSStat{BlockSize: blockSize, TotalBlocks: totalBlocks, Label: label}
			if formatErr := fat.FormatPartitionedDisk(image, stat, systemID); formatErr != nil {
				return formatErr
			}

			fmt.Printf("formatted %s (%d bytes, partitioned)\n", imagePath, totalBlocks*uint64(blockSize))
			return nil
		},
	}

	cmd.Flags().StringVar(&geometrySlug, "geometry", "", "use a predefined disk geometry slug (see disks package)")
	cmd.Flags().Int64Var(&sizeBytes, "size", 0, "image size in bytes, if not using --geometry")
	cmd.Flags().StringVar(&label, "label", "", "volume label")
	cmd.Flags().Uint8Var(&systemID, "system-id", 0x06, "MBR partition type byte")
	return cmd
}

func mountReadOnly(imagePath string) (*os.File, *fat.Volume, error) {
	image, err := os.Open(imagePath)
	if err != nil {
		return nil, nil, err
	}

	volume, err := fat.Mount(image, disko.MountFlagsAllowRead)
	if err != nil {
		image.Close()
		return nil, nil, err
	}
	return image, volume, nil
}

func newCatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat IMAGE_PATH PATH",
		Short: "Print the contents of a file on a FAT image to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, volume, err := mountReadOnly(args[0])
			if err != nil {
				return err
			}
			defer image.Close()

			base := driver.New(volume, disko.MountFlagsAllowRead)
			data, err := base.ReadFile(args[1])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	return cmd
}

func newFsckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fsck IMAGE_PATH",
		Short: "Check a FAT image for structural inconsistencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, volume, err := mountReadOnly(args[0])
			if err != nil {
				return err
			}
			defer image.Close()

			report, checkErr := volume.CheckVolume()
			if checkErr != nil {
				return checkErr
			}

			if report.Clean() {
				fmt.Println("clean")
				return nil
			}

			if report.FATCopiesMismatched {
				fmt.Println("FAT copies differ")
			}
			for _, c := range report.CorruptEntries {
				fmt.Printf("corrupt FAT entry at cluster %d\n", c)
			}
			for _, c := range report.CrossLinkedClusters {
				fmt.Printf("cross-linked cluster %d\n", c)
			}
			for _, c := range report.OrphanedClusters {
				fmt.Printf("orphaned cluster %d\n", c)
			}
			if report.WalkErrors != nil {
				fmt.Printf("directory walk errors: %v\n", report.WalkErrors)
			}
			return fmt.Errorf("volume is not clean")
		},
	}
	return cmd
}

func newLabelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "label IMAGE_PATH [NEW_LABEL]",
		Short: "Print or change a FAT image's volume label",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				image, volume, err := mountReadOnly(args[0])
				if err != nil {
					return err
				}
				defer image.Close()
				fmt.Println(volume.GetLabel())
				return nil
			}

			image, err := os.OpenFile(args[0], os.O_RDWR, 0o666)
			if err != nil {
				return err
			}
			defer image.Close()

			volume, err := fat.Mount(image, disko.MountFlagsAllowAll)
			if err != nil {
				return err
			}
			return volume.SetLabel(args[1])
		},
	}
	return cmd
}

func newMountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount IMAGE_PATH MOUNTPOINT",
		Short: "Mount a FAT image read-only over FUSE (Linux only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, volume, err := mountReadOnly(args[0])
			if err != nil {
				return err
			}
			defer image.Close()

			base := driver.New(volume, disko.MountFlagsAllowRead)
			return fuseadapter.Mount(args[1], base)
		},
	}
	return cmd
}

func newLsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls IMAGE_PATH [PATH]",
		Short: "List the contents of a directory on a FAT image",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer image.Close()

			volume, err := fat.Mount(image, disko.MountFlagsAllowRead)
			if err != nil {
				return err
			}

			base := driver.New(volume, disko.MountFlagsAllowRead)
			path := "/"
			if len(args) == 2 {
				path = args[1]
			}

			entries, err := base.ReadDir(path)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Println(entry.Name())
			}
			return nil
		},
	}
	return cmd
}
