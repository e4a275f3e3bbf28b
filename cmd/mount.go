// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/googlecloudplatform/scmfuse/cfg"
	"github.com/googlecloudplatform/scmfuse/internal/channel"
	"github.com/googlecloudplatform/scmfuse/internal/clock"
	"github.com/googlecloudplatform/scmfuse/internal/lifecycle"
	"github.com/googlecloudplatform/scmfuse/internal/logger"
	"github.com/googlecloudplatform/scmfuse/internal/mount"
	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
	"github.com/googlecloudplatform/scmfuse/internal/overlaydb"
	"github.com/googlecloudplatform/scmfuse/internal/privhelper"
	"github.com/googlecloudplatform/scmfuse/internal/workerpool"
	"github.com/googlecloudplatform/scmfuse/metrics"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var mountCmd = &cobra.Command{
	Use:   "mount <root-id> <mount-path>",
	Short: "Mount the tree at <root-id> onto <mount-path>",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if decodeErr != nil {
			return decodeErr
		}
		return runMount(cmd.Context(), objectstore.RootID(args[0]), args[1], resolvedCfg)
	},
}

// newOverlay constructs the Overlay backend cfg.OverlayType selects, a
// one-switch-per-knob translation from resolved config to a concrete
// collaborator.
func newOverlay(c *cfg.Config) (overlaydb.Overlay, error) {
	switch c.OverlayType {
	case cfg.OverlayBbolt:
		o, err := overlaydb.OpenBoltOverlay(string(c.MountPath))
		if err != nil {
			return nil, fmt.Errorf("open bbolt overlay: %w", err)
		}
		return o, nil
	default:
		return overlaydb.NewMemOverlay(), nil
	}
}

func newChannelProtocol(p cfg.Protocol) mount.ChannelVariant {
	switch p {
	case cfg.ProtocolNFS:
		return mount.ChannelNFS
	case cfg.ProtocolProjection:
		return mount.ChannelProjection
	default:
		return mount.ChannelFUSE
	}
}

// runMount drives one mount process end to end: build collaborators,
// initialize the mount, attach the kernel channel, block until it
// completes (or the process is signalled), then shut down cleanly.
func runMount(ctx context.Context, rootID objectstore.RootID, mountPath string, c *cfg.Config) error {
	if err := logger.InitLogFile(logger.LegacyLogConfig{}, c.Logging); err != nil {
		return fmt.Errorf("init log file: %w", err)
	}

	if mountPath != "" {
		c.MountPath = cfg.ResolvedPath(mountPath)
	}

	overlay, err := newOverlay(c)
	if err != nil {
		return err
	}

	store := objectstore.NewMemStore()

	collab := mount.Collaborators{
		Store:   store,
		Overlay: overlay,
		Helper:  privhelper.Local{},
		Clock:   clock.NewRealClock(),
	}

	mcfg := mount.Config{
		MountPath:       string(c.MountPath),
		ClientDir:       string(c.ClientDir),
		CaseSensitive:   c.CaseSensitive,
		RequireUTF8:     c.RequireUTF8,
		OverlayType:     string(c.OverlayType),
		ChannelProtocol: newChannelProtocol(c.Protocol),
		ParentRootID:    rootID,
	}

	for _, b := range c.FaultInjectionBlocks {
		logger.Infof("cmd: fault injection block registered gate=%s path=%s", b.Gate, b.Path)
	}

	uid, gid := uint32(os.Getuid()), uint32(os.Getgid())
	m := mount.New(mcfg, collab, uid, gid)

	pool, err := workerpool.NewStaticWorkerPool(uint32(1), uint32(c.PrefetchConcurrency))
	if err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	defer pool.Stop()

	meterProvider := sdkmetric.NewMeterProvider()
	mh, err := metrics.NewOTelMetrics(meterProvider.Meter("scmfuse"))
	if err != nil {
		return fmt.Errorf("start metrics: %w", err)
	}

	ccfg := lifecycle.ChannelConfig{
		Dispatcher: channel.NoopDispatcher{},
		FUSE: channel.FUSEConfig{
			FSName:                  "scmfuse",
			Subtype:                 "scmfuse",
			VolumeName:              "scmfuse",
			ThreadCount:             c.ChannelThreadCount,
			EnableParallelDirOps:    true,
			DisableWritebackCaching: false,
			EnableReaddirplus:       true,
		},
		NFS: channel.NFSConfig{
			IOSize:    1 << 20,
			EventLoop: channel.LoopbackEventLoop{},
			ClientDir: string(c.ClientDir),
		},
	}

	orch := lifecycle.New(m, ccfg, pool, mh)

	logger.Infof("cmd: initializing mount path=%s root=%s", mcfg.MountPath, rootID)
	if err := orch.Initialize(ctx, nil, nil); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	logger.Infof("cmd: starting channel protocol=%s", mcfg.ChannelProtocol)
	if err := orch.StartChannel(ctx, false); err != nil {
		return fmt.Errorf("start channel: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	wait := m.CompletionFuture()
	done := make(chan error, 1)
	go func() { done <- wait() }()

	select {
	case <-sigCh:
		logger.Infof("cmd: signal received, unmounting %s", mcfg.MountPath)
		if err := orch.Unmount(ctx); err != nil {
			logger.Warnf("cmd: unmount: %v", err)
		}
		<-done
	case err := <-done:
		if err != nil {
			logger.Warnf("cmd: channel completed with error: %v", err)
		}
	}

	if _, err := orch.Shutdown(false, false); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
