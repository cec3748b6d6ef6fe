package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"

	"github.com/timober/lcfs/internal/dispatch"
	"github.com/timober/lcfs/internal/lcfs"
	"github.com/timober/lcfs/internal/logger"
)

var mountCmd = &cobra.Command{
	Use:   "mount <device> <mountpoint>",
	Short: "Mount the layered filesystem at mountpoint, backed by device",
	Args:  cobra.ExactArgs(2),
	RunE:  runMount,
}

func configureLogging() error {
	if Cfg.Logging.FilePath == "" {
		logger.SetLogFormat(Cfg.Logging.Format)
		return nil
	}
	rotate := logger.RotateConfig{
		MaxFileSizeMB:   Cfg.Logging.LogRotate.MaxFileSizeMB,
		BackupFileCount: Cfg.Logging.LogRotate.BackupFileCount,
		Compress:        Cfg.Logging.LogRotate.Compress,
	}
	return logger.InitLogFile(Cfg.Logging.FilePath, Cfg.Logging.Format, Cfg.Logging.Severity, rotate)
}

func runMount(cmd *cobra.Command, args []string) error {
	device, mountPoint := args[0], args[1]

	if err := configureLogging(); err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	opts := lcfs.MountOptions{
		BlockSizeOverride: Cfg.Mount.BlockSize,
		ICacheSize:        Cfg.Mount.InodeCacheSize,
	}
	registry, err := lcfs.MountWithOverrides(device, opts)
	if err != nil {
		return fmt.Errorf("mounting %s: %w", device, err)
	}

	if Cfg.Metrics.Addr != "" {
		promReg := prometheus.NewRegistry()
		lcfs.NewMetrics(registry, promReg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: Cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("metrics server exited: %v", err)
			}
		}()
		logger.Infof("serving metrics on %s", Cfg.Metrics.Addr)
	}

	if Cfg.Mount.SnapshotRoot != "" {
		base := registry.GlobalLayer()
		local := lcfs.RootInode
		for _, part := range strings.FieldsFunc(Cfg.Mount.SnapshotRoot, func(r rune) bool { return r == '/' }) {
			dir, err := lcfs.GetInode(base, lcfs.MakeInodeID(base.Index(), local), nil, false, false)
			if err != nil {
				return fmt.Errorf("resolving snapshot root: %w", err)
			}
			local = base.DirOps().Lookup(dir, part)
			dir.Unlock(false)
			if local == lcfs.InvalidInode {
				return fmt.Errorf("resolving snapshot root: %q not found", part)
			}
		}
		if err := registry.SetSnapshotRoot(base, local); err != nil {
			return fmt.Errorf("setting snapshot root: %w", err)
		}
	}

	registry.GlobalLayer().ReadOnly = Cfg.Mount.ReadOnly
	fsys := dispatch.New(registry, registry.GlobalLayer())
	server := fuseutil.NewFileSystemServer(fsys)

	mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{})
	if err != nil {
		return fmt.Errorf("mounting fuse at %s: %w", mountPoint, err)
	}

	logger.Infof("lcfs mounted at %s (device %s)", mountPoint, device)

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("serving fuse connection: %w", err)
	}
	return lcfs.Unmount(registry)
}
