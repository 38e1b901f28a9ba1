//go:build darwin || linux
// +build darwin linux

package fuse

import (
	"sync"
	"syscall"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/prometheus/client_golang/prometheus"

	"golang.org/x/sys/unix"
)

var (
	rawFileSystemPrometheusMetrics sync.Once

	rawFileSystemOperationsDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gistfs",
			Subsystem: "fuse",
			Name:      "raw_file_system_operations_duration_seconds",
			Help:      "Amount of time spent per operation on the raw file system, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-6, 7, 2),
		},
		[]string{"operation", "status_code"})
	rawFileSystemCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gistfs",
			Subsystem: "fuse",
			Name:      "raw_file_system_callbacks_total",
			Help:      "Total number of cache invalidation callbacks sent to the kernel.",
		},
		[]string{"callback", "status_code"})
)

// statusCodeName converts a FUSE status to a label value. It uses
// unix.ErrnoName() instead of fuse.Status.String(), as the latter
// inserts OS specific errno integer values into the label.
func statusCodeName(s fuse.Status) string {
	if s == fuse.OK {
		return "OK"
	}
	if name := unix.ErrnoName(syscall.Errno(s)); name != "" {
		return name
	}
	return "UNKNOWN"
}

// operationHistogram holds references to Prometheus metrics for a
// single FUSE operation.
type operationHistogram struct {
	ok      prometheus.Observer
	failure prometheus.ObserverVec
}

func newOperationHistogram(operation string) operationHistogram {
	return operationHistogram{
		ok:      rawFileSystemOperationsDurationSeconds.WithLabelValues(operation, "OK"),
		failure: rawFileSystemOperationsDurationSeconds.MustCurryWith(map[string]string{"operation": operation}),
	}
}

func (m *operationHistogram) observe(s fuse.Status, timeStart, timeStop time.Time) {
	d := timeStop.Sub(timeStart).Seconds()
	if s == fuse.OK {
		m.ok.Observe(d)
	} else {
		m.failure.WithLabelValues(statusCodeName(s)).Observe(d)
	}
}

var (
	operationHistogramLookup      = newOperationHistogram("Lookup")
	operationHistogramForget      = newOperationHistogram("Forget")
	operationHistogramGetAttr     = newOperationHistogram("GetAttr")
	operationHistogramSetAttr     = newOperationHistogram("SetAttr")
	operationHistogramOpen        = newOperationHistogram("Open")
	operationHistogramRead        = newOperationHistogram("Read")
	operationHistogramWrite       = newOperationHistogram("Write")
	operationHistogramFlush       = newOperationHistogram("Flush")
	operationHistogramRelease     = newOperationHistogram("Release")
	operationHistogramOpenDir     = newOperationHistogram("OpenDir")
	operationHistogramReadDir     = newOperationHistogram("ReadDir")
	operationHistogramReadDirPlus = newOperationHistogram("ReadDirPlus")
	operationHistogramReleaseDir  = newOperationHistogram("ReleaseDir")
	operationHistogramStatFs      = newOperationHistogram("StatFs")
)

type metricsRawFileSystem struct {
	fuse.RawFileSystem

	clock clock.Clock
}

// NewMetricsRawFileSystem creates a decorator for fuse.RawFileSystem
// that exposes Prometheus metrics for the operations that are served by
// GistRawFileSystem. Other operations are forwarded without being
// measured.
func NewMetricsRawFileSystem(base fuse.RawFileSystem, clock clock.Clock) fuse.RawFileSystem {
	registerRawFileSystemMetrics()
	return &metricsRawFileSystem{
		RawFileSystem: base,
		clock:         clock,
	}
}

func registerRawFileSystemMetrics() {
	rawFileSystemPrometheusMetrics.Do(func() {
		prometheus.MustRegister(rawFileSystemOperationsDurationSeconds)
		prometheus.MustRegister(rawFileSystemCallbacks)
	})
}

func (rfs *metricsRawFileSystem) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	timeStart := rfs.clock.Now()
	s := rfs.RawFileSystem.Lookup(cancel, header, name, out)
	operationHistogramLookup.observe(s, timeStart, rfs.clock.Now())
	return s
}

func (rfs *metricsRawFileSystem) Forget(nodeID, nLookup uint64) {
	timeStart := rfs.clock.Now()
	rfs.RawFileSystem.Forget(nodeID, nLookup)
	operationHistogramForget.observe(fuse.OK, timeStart, rfs.clock.Now())
}

func (rfs *metricsRawFileSystem) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	timeStart := rfs.clock.Now()
	s := rfs.RawFileSystem.GetAttr(cancel, input, out)
	operationHistogramGetAttr.observe(s, timeStart, rfs.clock.Now())
	return s
}

func (rfs *metricsRawFileSystem) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	timeStart := rfs.clock.Now()
	s := rfs.RawFileSystem.SetAttr(cancel, input, out)
	operationHistogramSetAttr.observe(s, timeStart, rfs.clock.Now())
	return s
}

func (rfs *metricsRawFileSystem) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	timeStart := rfs.clock.Now()
	s := rfs.RawFileSystem.Open(cancel, input, out)
	operationHistogramOpen.observe(s, timeStart, rfs.clock.Now())
	return s
}

func (rfs *metricsRawFileSystem) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	timeStart := rfs.clock.Now()
	r, s := rfs.RawFileSystem.Read(cancel, input, buf)
	operationHistogramRead.observe(s, timeStart, rfs.clock.Now())
	return r, s
}

func (rfs *metricsRawFileSystem) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	timeStart := rfs.clock.Now()
	n, s := rfs.RawFileSystem.Write(cancel, input, data)
	operationHistogramWrite.observe(s, timeStart, rfs.clock.Now())
	return n, s
}

func (rfs *metricsRawFileSystem) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	timeStart := rfs.clock.Now()
	s := rfs.RawFileSystem.Flush(cancel, input)
	operationHistogramFlush.observe(s, timeStart, rfs.clock.Now())
	return s
}

func (rfs *metricsRawFileSystem) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	timeStart := rfs.clock.Now()
	rfs.RawFileSystem.Release(cancel, input)
	operationHistogramRelease.observe(fuse.OK, timeStart, rfs.clock.Now())
}

func (rfs *metricsRawFileSystem) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	timeStart := rfs.clock.Now()
	s := rfs.RawFileSystem.OpenDir(cancel, input, out)
	operationHistogramOpenDir.observe(s, timeStart, rfs.clock.Now())
	return s
}

func (rfs *metricsRawFileSystem) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	timeStart := rfs.clock.Now()
	s := rfs.RawFileSystem.ReadDir(cancel, input, out)
	operationHistogramReadDir.observe(s, timeStart, rfs.clock.Now())
	return s
}

func (rfs *metricsRawFileSystem) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	timeStart := rfs.clock.Now()
	s := rfs.RawFileSystem.ReadDirPlus(cancel, input, out)
	operationHistogramReadDirPlus.observe(s, timeStart, rfs.clock.Now())
	return s
}

func (rfs *metricsRawFileSystem) ReleaseDir(input *fuse.ReleaseIn) {
	timeStart := rfs.clock.Now()
	rfs.RawFileSystem.ReleaseDir(input)
	operationHistogramReleaseDir.observe(fuse.OK, timeStart, rfs.clock.Now())
}

func (rfs *metricsRawFileSystem) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	timeStart := rfs.clock.Now()
	s := rfs.RawFileSystem.StatFs(cancel, input, out)
	operationHistogramStatFs.observe(s, timeStart, rfs.clock.Now())
	return s
}

var (
	callbackCounterEntryNotify = newCallbackCounter("EntryNotify")
	callbackCounterInodeNotify = newCallbackCounter("InodeNotify")
)

// callbackCounter holds references to Prometheus metrics for a single
// FUSE server callback.
type callbackCounter struct {
	ok      prometheus.Counter
	failure *prometheus.CounterVec
}

func newCallbackCounter(callback string) callbackCounter {
	return callbackCounter{
		ok:      rawFileSystemCallbacks.WithLabelValues(callback, "OK"),
		failure: rawFileSystemCallbacks.MustCurryWith(map[string]string{"callback": callback}),
	}
}

func (m *callbackCounter) inc(s fuse.Status) {
	if s == fuse.OK {
		m.ok.Inc()
	} else {
		m.failure.WithLabelValues(statusCodeName(s)).Inc()
	}
}

type metricsServerCallbacks struct {
	base ServerCallbacks
}

// NewMetricsServerCallbacks creates a decorator for ServerCallbacks
// that counts the number of invalidations sent to the kernel.
func NewMetricsServerCallbacks(base ServerCallbacks) ServerCallbacks {
	registerRawFileSystemMetrics()
	return &metricsServerCallbacks{
		base: base,
	}
}

func (sc *metricsServerCallbacks) EntryNotify(parent uint64, name string) fuse.Status {
	s := sc.base.EntryNotify(parent, name)
	callbackCounterEntryNotify.inc(s)
	return s
}

func (sc *metricsServerCallbacks) InodeNotify(node uint64, off, length int64) fuse.Status {
	s := sc.base.InodeNotify(node, off, length)
	callbackCounterInodeNotify.inc(s)
	return s
}
