package virtual

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/filesystem/path"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ubnt-intrepid/gist-fs/pkg/filesystem"
	"github.com/ubnt-intrepid/gist-fs/pkg/gist"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	gistReconcilerPrometheusMetrics sync.Once

	gistReconcilerSynchronizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gistfs",
			Subsystem: "reconciler",
			Name:      "synchronizations_total",
			Help:      "Number of times synchronization against the remote gist was requested, partitioned by outcome.",
		},
		[]string{"result"})
	gistReconcilerFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gistfs",
			Subsystem: "reconciler",
			Name:      "files_total",
			Help:      "Number of files processed during reconciliation, partitioned by operation.",
		},
		[]string{"operation"})
	gistReconcilerRehydrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gistfs",
			Subsystem: "reconciler",
			Name:      "rehydrations_total",
			Help:      "Number of times the full contents of a truncated file were downloaded, partitioned by outcome.",
		},
		[]string{"result"})

	gistReconcilerSynchronizationsNotExpired  = gistReconcilerSynchronizations.WithLabelValues("NotExpired")
	gistReconcilerSynchronizationsNotModified = gistReconcilerSynchronizations.WithLabelValues("NotModified")
	gistReconcilerSynchronizationsModified    = gistReconcilerSynchronizations.WithLabelValues("Modified")
	gistReconcilerSynchronizationsFailed      = gistReconcilerSynchronizations.WithLabelValues("Failed")

	gistReconcilerFilesCreated = gistReconcilerFiles.WithLabelValues("Created")
	gistReconcilerFilesUpdated = gistReconcilerFiles.WithLabelValues("Updated")
	gistReconcilerFilesRemoved = gistReconcilerFiles.WithLabelValues("Removed")
	gistReconcilerFilesFailed  = gistReconcilerFiles.WithLabelValues("Failed")

	gistReconcilerRehydrationsSucceeded = gistReconcilerRehydrations.WithLabelValues("Succeeded")
	gistReconcilerRehydrationsFailed    = gistReconcilerRehydrations.WithLabelValues("Failed")
)

// ChangeNotifier is called by GistReconciler after the contents of a
// file have been replaced, so that the kernel's page cache of the file
// can be invalidated.
type ChangeNotifier func(inodeNumber uint64)

// ChangeNotifierRegistrar has the same signature as
// GistReconciler.RegisterChangeNotifier().
type ChangeNotifierRegistrar func(changeNotifier ChangeNotifier)

// GistReconcilerOptions contains the settings of a GistReconciler.
type GistReconcilerOptions struct {
	// Identifier of the gist to expose.
	GistID string
	// Amount of time a fetched snapshot is considered fresh. No
	// requests are sent to the remote API during this period.
	CachePeriod time.Duration
	// Owner of all files exposed through the inode table.
	OwnerUserID  uint32
	OwnerGroupID uint32
}

type remoteFile struct {
	inodeNumber uint64
	rawURL      string
}

// remoteFileSet is an immutable mapping between the names of files in
// the gist and the inodes backing them.
type remoteFileSet struct {
	byName  map[path.Component]remoteFile
	byInode map[uint64]remoteFile
}

func newRemoteFileSet() *remoteFileSet {
	return &remoteFileSet{
		byName:  map[path.Component]remoteFile{},
		byInode: map[uint64]remoteFile{},
	}
}

func (fs *remoteFileSet) add(name path.Component, file remoteFile) {
	fs.byName[name] = file
	fs.byInode[file.inodeNumber] = file
}

type pendingCreation struct {
	name       path.Component
	file       *gist.File
	content    []byte
	hasContent bool
}

// GistReconciler keeps the root directory of an InodeTable in sync
// with the files of a gist. Every file in the gist is exposed as a
// regular file directly underneath the root directory. Files are
// matched across snapshots by name, meaning that the inode number of a
// file remains stable for as long as it is present in the gist.
type GistReconciler struct {
	client       gist.Client
	inodeTable   *InodeTable
	contentStore *filesystem.ContentStore
	clock        clock.Clock
	logger       *zap.Logger
	options      GistReconcilerOptions

	// At most one synchronization runs at a time.
	lock   sync.Mutex
	etag   gist.ETag
	expiry time.Time

	files        atomic.Pointer[remoteFileSet]
	rehydrations singleflight.Group

	changeNotifiersLock sync.Mutex
	changeNotifiers     []ChangeNotifier
}

// NewGistReconciler creates a GistReconciler. The first call to
// Synchronize() always contacts the remote API.
func NewGistReconciler(client gist.Client, inodeTable *InodeTable, contentStore *filesystem.ContentStore, clock clock.Clock, logger *zap.Logger, options GistReconcilerOptions) *GistReconciler {
	gistReconcilerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(gistReconcilerSynchronizations)
		prometheus.MustRegister(gistReconcilerFiles)
		prometheus.MustRegister(gistReconcilerRehydrations)
	})

	r := &GistReconciler{
		client:       client,
		inodeTable:   inodeTable,
		contentStore: contentStore,
		clock:        clock,
		logger:       logger.With(zap.String("gist_id", options.GistID)),
		options:      options,
	}
	r.files.Store(newRemoteFileSet())
	return r
}

// RegisterChangeNotifier adds a callback that is invoked every time the
// contents of an existing file are replaced by reconciliation.
func (r *GistReconciler) RegisterChangeNotifier(changeNotifier ChangeNotifier) {
	r.changeNotifiersLock.Lock()
	r.changeNotifiers = append(r.changeNotifiers, changeNotifier)
	r.changeNotifiersLock.Unlock()
}

func (r *GistReconciler) notifyChanges(inodeNumbers []uint64) {
	r.changeNotifiersLock.Lock()
	changeNotifiers := r.changeNotifiers
	r.changeNotifiersLock.Unlock()
	for _, inodeNumber := range inodeNumbers {
		for _, changeNotifier := range changeNotifiers {
			changeNotifier(inodeNumber)
		}
	}
}

// Synchronize the inode table against the gist if the previously
// fetched snapshot has expired. If fetching the gist fails, the inode
// table is left untouched and the expiry is not advanced, meaning the
// next call retries.
//
// Cancellation of the provided context does not interrupt an ongoing
// fetch, as its results are shared with all subsequent callers.
func (r *GistReconciler) Synchronize(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := r.clock.Now()
	if now.Before(r.expiry) {
		gistReconcilerSynchronizationsNotExpired.Inc()
		return nil
	}

	snapshot, etag, err := r.client.Fetch(context.WithoutCancel(ctx), r.options.GistID, r.etag)
	if err != nil {
		gistReconcilerSynchronizationsFailed.Inc()
		r.logger.Warn("Failed to fetch gist", zap.Error(err))
		return util.StatusWrapf(err, "Failed to fetch gist %#v", r.options.GistID)
	}
	if snapshot == nil {
		gistReconcilerSynchronizationsNotModified.Inc()
		r.logger.Debug("Gist not modified")
	} else {
		gistReconcilerSynchronizationsModified.Inc()
		r.reconcile(snapshot)
		r.etag = etag
	}
	r.expiry = now.Add(r.options.CachePeriod)
	return nil
}

// reconcile applies a snapshot of the gist against the inode table.
// Files present in both the snapshot and the inode table are updated
// in place. New files are created and the file set swapped while
// holding the inode table's structural lock, after which files that
// disappeared are removed in the same critical section.
func (r *GistReconciler) reconcile(snapshot *gist.Snapshot) {
	previous := r.files.Load()
	next := newRemoteFileSet()

	// Let the root directory's timestamps follow the gist.
	if _, s := r.inodeTable.SetAttributes(RootInodeNumber, func(attributes *Attributes) Status {
		attributes.SetTimes(snapshot.UpdatedAt, snapshot.UpdatedAt, snapshot.CreatedAt)
		return StatusOK
	}); s != StatusOK {
		r.logger.Warn("Failed to update attributes of root directory", zap.Stringer("status", s))
	}

	// Process files in a deterministic order, so that inode numbers
	// are assigned predictably.
	filenames := make([]string, 0, len(snapshot.Files))
	for filename := range snapshot.Files {
		filenames = append(filenames, filename)
	}
	slices.Sort(filenames)

	var updated []uint64
	var creations []pendingCreation
	for _, filename := range filenames {
		file := snapshot.Files[filename]
		name, ok := path.NewComponent(filename)
		if !ok {
			gistReconcilerFilesFailed.Inc()
			r.logger.Warn("Skipping file with invalid name", zap.String("filename", filename))
			continue
		}
		content, hasContent := file.GetContent()
		if existing, ok := previous.byName[name]; ok {
			next.add(name, remoteFile{
				inodeNumber: existing.inodeNumber,
				rawURL:      file.RawURL,
			})
			if err := r.updateFile(existing.inodeNumber, snapshot, &file, content, hasContent); err != nil {
				gistReconcilerFilesFailed.Inc()
				r.logger.Warn("Failed to update file", zap.String("filename", filename), zap.Error(err))
				continue
			}
			gistReconcilerFilesUpdated.Inc()
			updated = append(updated, existing.inodeNumber)
		} else {
			creations = append(creations, pendingCreation{
				name:       name,
				file:       &file,
				content:    content,
				hasContent: hasContent,
			})
		}
	}

	var created, removed int
	r.inodeTable.Apply(func(tx *InodeTableTransaction) {
		for _, creation := range creations {
			sizeBytes := creation.file.Size
			if creation.hasContent {
				sizeBytes = uint64(len(creation.content))
			}
			inodeNumber, s := tx.AllocateChild(
				RootInodeNumber,
				creation.name,
				NewRegularFileAttributes(r.options.OwnerUserID, r.options.OwnerGroupID, sizeBytes, snapshot.CreatedAt, snapshot.UpdatedAt))
			if s != StatusOK {
				gistReconcilerFilesFailed.Inc()
				r.logger.Warn("Failed to create file", zap.String("filename", creation.name.String()), zap.Stringer("status", s))
				continue
			}
			fc := r.contentStore.Register(inodeNumber, creation.content)
			if !creation.hasContent {
				fc.MarkNeedsRehydration()
			}
			next.add(creation.name, remoteFile{
				inodeNumber: inodeNumber,
				rawURL:      creation.file.RawURL,
			})
			gistReconcilerFilesCreated.Inc()
			created++
		}

		r.files.Store(next)

		for name, file := range previous.byName {
			if _, ok := next.byName[name]; ok {
				continue
			}
			if s := tx.Remove(file.inodeNumber); s != StatusOK {
				r.logger.Warn("Failed to remove file", zap.String("filename", name.String()), zap.Stringer("status", s))
			}
			r.contentStore.Evict(file.inodeNumber)
			gistReconcilerFilesRemoved.Inc()
			removed++
		}
	})

	r.notifyChanges(updated)
	r.logger.Info(
		"Reconciled gist",
		zap.Int("created", created),
		zap.Int("updated", len(updated)),
		zap.Int("removed", removed),
		zap.Time("updated_at", snapshot.UpdatedAt))
}

// updateFile applies the contents and timestamps of a file in the
// snapshot to an existing inode. Files whose contents were not
// included in the snapshot are marked for rehydration, instead of
// having their contents cleared.
func (r *GistReconciler) updateFile(inodeNumber uint64, snapshot *gist.Snapshot, file *gist.File, content []byte, hasContent bool) error {
	fc, ok := r.contentStore.Get(inodeNumber)
	if !ok {
		return status.Errorf(codes.Internal, "No contents registered for inode %d", inodeNumber)
	}

	var setAttributesStatus Status
	updateAttributes := func(sizeBytes uint64) {
		_, setAttributesStatus = r.inodeTable.SetAttributes(inodeNumber, func(attributes *Attributes) Status {
			attributes.
				SetSizeBytes(sizeBytes).
				SetTimes(snapshot.UpdatedAt, snapshot.UpdatedAt, snapshot.CreatedAt)
			return StatusOK
		})
	}
	if hasContent {
		fc.Replace(content, updateAttributes)
	} else {
		fc.MarkNeedsRehydration()
		updateAttributes(file.Size)
	}
	if setAttributesStatus != StatusOK {
		return status.Errorf(codes.Internal, "Failed to update attributes of inode %d: %s", inodeNumber, setAttributesStatus)
	}
	return nil
}

// Rehydrate downloads the full contents of a file if the snapshot it
// originated from only contained a truncated copy. Concurrent calls for
// the same file are collapsed into a single download.
func (r *GistReconciler) Rehydrate(ctx context.Context, inodeNumber uint64) error {
	fc, ok := r.contentStore.Get(inodeNumber)
	if !ok {
		return status.Errorf(codes.NotFound, "No contents registered for inode %d", inodeNumber)
	}
	if !fc.NeedsRehydration() {
		return nil
	}

	_, err, _ := r.rehydrations.Do(strconv.FormatUint(inodeNumber, 10), func() (any, error) {
		if !fc.NeedsRehydration() {
			return nil, nil
		}
		file, ok := r.files.Load().byInode[inodeNumber]
		if !ok {
			return nil, status.Errorf(codes.NotFound, "Inode %d does not belong to the gist", inodeNumber)
		}
		content, err := r.client.FetchRawContent(context.WithoutCancel(ctx), file.rawURL)
		if err != nil {
			gistReconcilerRehydrationsFailed.Inc()
			r.logger.Warn("Failed to download file contents", zap.Uint64("inode", inodeNumber), zap.Error(err))
			return nil, util.StatusWrapf(err, "Failed to download contents of inode %d", inodeNumber)
		}
		fc.Replace(content, func(sizeBytes uint64) {
			r.inodeTable.SetAttributes(inodeNumber, func(attributes *Attributes) Status {
				attributes.SetSizeBytes(sizeBytes)
				return StatusOK
			})
		})
		gistReconcilerRehydrationsSucceeded.Inc()
		return nil, nil
	})
	return err
}
