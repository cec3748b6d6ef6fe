package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timober/lcfs/internal/lcfs"
)

var formatCmd = &cobra.Command{
	Use:   "format <device>",
	Short: "Initialize a fresh superblock and base layer on device",
	Args:  cobra.ExactArgs(1),
	RunE:  runFormat,
}

func runFormat(cmd *cobra.Command, args []string) error {
	if err := configureLogging(); err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	opts := lcfs.MountOptions{BlockSizeOverride: Cfg.Mount.BlockSize}
	if err := lcfs.FormatWithOptions(args[0], opts); err != nil {
		return fmt.Errorf("formatting %s: %w", args[0], err)
	}
	return nil
}
