package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/program"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	configuration "github.com/ubnt-intrepid/gist-fs/pkg/configuration/gist_fs"
	"github.com/ubnt-intrepid/gist-fs/pkg/filesystem"
	"github.com/ubnt-intrepid/gist-fs/pkg/filesystem/virtual"
	virtual_configuration "github.com/ubnt-intrepid/gist-fs/pkg/filesystem/virtual/configuration"
	"github.com/ubnt-intrepid/gist-fs/pkg/filesystem/virtual/fuse"
	"github.com/ubnt-intrepid/gist-fs/pkg/gist"
	"github.com/ubnt-intrepid/gist-fs/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// gist_fs exposes the files of a single GitHub gist as a flat directory
// through FUSE. The contents of the gist are fetched when the root
// directory is opened, and are cached for a configurable period.
// Changes made through the file system are kept in memory and are
// discarded when the gist is updated remotely.

func main() {
	program.RunMain(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		flagSet := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
		flags := configuration.RegisterFlags(flagSet)
		if err := flagSet.Parse(os.Args[1:]); err != nil {
			return util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to parse command line flags")
		}
		if flagSet.NArg() > 1 {
			return status.Error(codes.InvalidArgument, "Usage: gist_fs [--config gist_fs.jsonnet] [--gist-id id] [mountpoint]")
		}
		c, err := flags.GetGistFSConfiguration(flagSet.Arg(0))
		if err != nil {
			return err
		}
		logger, err := logging.NewLogger(c.LogLevel)
		if err != nil {
			return err
		}

		// Client for the GitHub REST API.
		gistClient := gist.NewTracingClient(
			gist.NewMetricsClient(
				gist.NewHTTPClient(
					&http.Client{Timeout: time.Duration(c.FetchTimeout)},
					c.APIURL,
					c.Token,
					uuid.NewRandom),
				clock.SystemClock),
			otel.GetTracerProvider())

		// In-memory state of the file system, populated from the
		// gist when the root directory is opened.
		uid, gid := uint32(unix.Getuid()), uint32(unix.Getgid())
		inodeTable := virtual.NewInodeTable(virtual.NewDirectoryAttributes(uid, gid, clock.SystemClock.Now()))
		contentStore := filesystem.NewContentStore()
		reconciler := virtual.NewGistReconciler(
			gistClient,
			inodeTable,
			contentStore,
			clock.SystemClock,
			logger,
			virtual.GistReconcilerOptions{
				GistID:       c.GistID,
				CachePeriod:  time.Duration(c.CachePeriod),
				OwnerUserID:  uid,
				OwnerGroupID: gid,
			})
		rawFileSystem := fuse.NewGistRawFileSystem(
			inodeTable,
			contentStore,
			reconciler,
			inodeTable.RegisterRemovalNotifier,
			reconciler.RegisterChangeNotifier,
			clock.SystemClock,
			logger)

		mount := virtual_configuration.NewMount(
			c.MountPath,
			virtual_configuration.MountOptions{
				AllowOther:        c.AllowOther,
				DirectMount:       c.DirectMount,
				DropCapabilities:  c.DropCapabilities,
				EntryValidity:     time.Duration(c.EntryValidity),
				AttributeValidity: time.Duration(c.AttributeValidity),
			},
			rawFileSystem,
			virtual_configuration.NewFUSEServer,
			clock.SystemClock,
			logger)
		if err := mount.Init(); err != nil {
			return util.StatusWrap(err, "Failed to initialize mount")
		}
		siblingsGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
			return mount.Serve(ctx)
		})

		// Web server for metrics and health checking.
		if c.DiagnosticsHTTPListenAddress != "" {
			router := mux.NewRouter()
			router.Handle("/metrics", promhttp.Handler())
			router.HandleFunc("/-/healthy", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			server := &http.Server{
				Addr:    c.DiagnosticsHTTPListenAddress,
				Handler: router,
			}
			siblingsGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
				<-ctx.Done()
				return server.Close()
			})
			siblingsGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
				if err := server.ListenAndServe(); err != http.ErrServerClosed {
					return util.StatusWrap(err, "Diagnostics HTTP server failure")
				}
				return nil
			})
		}

		logger.Info(
			"Serving gist",
			zap.String("gist_id", c.GistID),
			zap.String("mount_path", c.MountPath))
		return nil
	})
}
