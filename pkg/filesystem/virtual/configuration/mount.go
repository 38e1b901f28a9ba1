//go:build darwin || linux
// +build darwin linux

package configuration

import (
	"context"
	"os"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	go_fuse "github.com/hanwen/go-fuse/v2/fuse"
	"github.com/ubnt-intrepid/gist-fs/pkg/filesystem/virtual/fuse"
	"go.uber.org/zap"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RequestServer is a session with the kernel through which FUSE
// requests are received and dispatched. It is implemented by go-fuse's
// fuse.Server. Tests may provide a synthetic implementation that
// invokes the RawFileSystem directly.
type RequestServer interface {
	Serve()
	WaitMount() error
	Unmount() error
}

var _ RequestServer = (*go_fuse.Server)(nil)

// ServerFactory creates a RequestServer that dispatches requests
// received on a mount path to a RawFileSystem.
type ServerFactory func(rawFileSystem go_fuse.RawFileSystem, mountPath string, options *go_fuse.MountOptions) (RequestServer, error)

// NewFUSEServer is a ServerFactory that mounts the file system through
// go-fuse.
func NewFUSEServer(rawFileSystem go_fuse.RawFileSystem, mountPath string, options *go_fuse.MountOptions) (RequestServer, error) {
	server, err := go_fuse.NewServer(rawFileSystem, mountPath, options)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// MountOptions contains the settings of a Mount.
type MountOptions struct {
	// Permit users other than the one running the process to
	// access the file system.
	AllowOther bool
	// Call mount(2) directly, instead of relying on fusermount.
	DirectMount bool
	// Drop CAP_SYS_ADMIN once the file system has been mounted.
	DropCapabilities bool
	// Amount of time the kernel may cache directory entries and
	// inode attributes.
	EntryValidity     time.Duration
	AttributeValidity time.Duration
}

// Mount of a RawFileSystem at a path on the local system. The lifecycle
// of the mount is split into Init(), Serve() and Shutdown(), so that
// failures to set up the mount can be reported before any requests are
// processed.
type Mount struct {
	mountPath     string
	options       MountOptions
	rawFileSystem go_fuse.RawFileSystem
	serverFactory ServerFactory
	clock         clock.Clock
	logger        *zap.Logger

	server RequestServer
}

// NewMount creates a Mount. No changes are made to the system until
// Init() is called.
func NewMount(mountPath string, options MountOptions, rawFileSystem go_fuse.RawFileSystem, serverFactory ServerFactory, clock clock.Clock, logger *zap.Logger) *Mount {
	return &Mount{
		mountPath:     mountPath,
		options:       options,
		rawFileSystem: rawFileSystem,
		serverFactory: serverFactory,
		clock:         clock,
		logger:        logger.With(zap.String("mount_path", mountPath)),
	}
}

// Init removes mounts left behind by previous invocations and creates
// the kernel session.
func (m *Mount) Init() error {
	// Stale FUSE mounts cause stat() to fail with ENOTCONN, so they
	// need to be removed before validating the mount path.
	if removed := removeStaleMounts(m.mountPath); removed > 0 {
		m.logger.Info("Removed stale mounts", zap.Int("count", removed))
	}
	info, err := os.Stat(m.mountPath)
	if err != nil {
		return util.StatusWrapfWithCode(err, codes.InvalidArgument, "Failed to obtain properties of mount path %#v", m.mountPath)
	}
	if !info.IsDir() {
		return status.Errorf(codes.InvalidArgument, "Mount path %#v is not a directory", m.mountPath)
	}

	server, err := m.serverFactory(
		fuse.NewMetricsRawFileSystem(
			fuse.NewDefaultAttributesInjectingRawFileSystem(
				m.rawFileSystem,
				m.options.EntryValidity,
				m.options.AttributeValidity),
			m.clock),
		m.mountPath,
		&go_fuse.MountOptions{
			// The name isn't strictly necessary, but is
			// filled in to prevent runc from crashing when
			// parsing /proc/self/mountinfo.
			FsName:      "gistfs",
			Name:        "gistfs",
			AllowOther:  m.options.AllowOther,
			DirectMount: m.options.DirectMount,
		})
	if err != nil {
		return util.StatusWrap(err, "Failed to create FUSE server")
	}
	m.server = server
	return nil
}

// Serve processes requests until the context is cancelled, after which
// the file system is unmounted. It also returns if the file system is
// unmounted externally.
func (m *Mount) Serve(ctx context.Context) error {
	if m.server == nil {
		return status.Error(codes.FailedPrecondition, "Mount has not been initialized")
	}

	served := make(chan struct{})
	go func() {
		m.server.Serve()
		close(served)
	}()
	if err := m.server.WaitMount(); err != nil {
		return util.StatusWrap(err, "Failed to wait for file system to be mounted")
	}
	if m.options.DropCapabilities {
		if err := dropMountCapabilities(); err != nil {
			m.Shutdown()
			<-served
			return err
		}
	}
	m.logger.Info("File system mounted")

	select {
	case <-ctx.Done():
		if err := m.Shutdown(); err != nil {
			return err
		}
		<-served
		m.logger.Info("File system unmounted")
	case <-served:
		m.logger.Warn("FUSE session terminated")
	}
	return nil
}

// Shutdown unmounts the file system, causing Serve() to return.
func (m *Mount) Shutdown() error {
	if m.server == nil {
		return nil
	}
	if err := m.server.Unmount(); err != nil {
		return util.StatusWrapf(err, "Failed to unmount %#v", m.mountPath)
	}
	return nil
}
