//go:build darwin || linux
// +build darwin linux

package mock_test

import (
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/ubnt-intrepid/gist-fs/internal/mock"
	"github.com/ubnt-intrepid/gist-fs/pkg/filesystem/virtual/configuration"
	"github.com/ubnt-intrepid/gist-fs/pkg/filesystem/virtual/fuse"
	"github.com/ubnt-intrepid/gist-fs/pkg/gist"
)

// Mocks must keep up with the interfaces they were generated from.
var (
	_ clock.Clock                 = (*mock.MockClock)(nil)
	_ clock.Ticker                = (*mock.MockTicker)(nil)
	_ clock.Timer                 = (*mock.MockTimer)(nil)
	_ configuration.RequestServer = (*mock.MockRequestServer)(nil)
	_ fuse.ContentSynchronizer    = (*mock.MockContentSynchronizer)(nil)
	_ fuse.ServerCallbacks        = (*mock.MockServerCallbacks)(nil)
	_ gist.Client                 = (*mock.MockGistClient)(nil)
)
