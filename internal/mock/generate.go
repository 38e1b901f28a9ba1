package mock

//go:generate mockgen -package mock -destination clock.go github.com/buildbarn/bb-storage/pkg/clock Clock,Ticker,Timer
//go:generate mockgen -package mock -destination configuration.go github.com/ubnt-intrepid/gist-fs/pkg/filesystem/virtual/configuration RequestServer
//go:generate mockgen -package mock -destination fuse.go github.com/ubnt-intrepid/gist-fs/pkg/filesystem/virtual/fuse ContentSynchronizer,ServerCallbacks
//go:generate mockgen -package mock -destination gist.go -mock_names Client=MockGistClient github.com/ubnt-intrepid/gist-fs/pkg/gist Client
