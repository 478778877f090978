// internal/tournament/browser.go
package tournament

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/tourney/internal/cache"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/sirupsen/logrus"
)

// Listing is a snapshot of the public lobbies.
type Listing struct {
	Lobbies   []*ledger.Lobby `json:"lobbies"`
	Failed    []string        `json:"failed,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Browser lists public lobbies. Refresh reads the ledger; Snapshot serves the
// last refresh from the shared index, or from memory when there is none.
type Browser struct {
	reader *ledger.Reader
	index  *cache.LobbyIndex
	log    logrus.FieldLogger
	now    func() time.Time

	mu   sync.RWMutex
	last *Listing
}

// NewBrowser returns a Browser. index may be nil.
func NewBrowser(reader *ledger.Reader, index *cache.LobbyIndex, logger logrus.FieldLogger) *Browser {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Browser{
		reader: reader,
		index:  index,
		log:    logger.WithField("component", "lobby_browser"),
		now:    time.Now,
	}
}

// List reads every public lobby in one batched call and attaches stake asset
// metadata. Lobbies that failed to load are named in Failed.
func (b *Browser) List(ctx context.Context) (*Listing, error) {
	ids, err := b.reader.PublicLobbyIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list public lobbies: %w", err)
	}
	res := b.reader.BatchGetLobbies(ctx, ids)
	lobbies := res.Lobbies()
	b.reader.Assets(ctx, lobbies)

	listing := &Listing{Lobbies: lobbies, UpdatedAt: b.now()}
	for _, f := range res.Failures() {
		listing.Failed = append(listing.Failed, f.ID.Ref())
		b.log.WithFields(logrus.Fields{"lobby": f.ID.String(), "error": f.Err}).Debug("lobby read failed")
	}
	return listing, nil
}

// Refresh lists the lobbies and stores the snapshot.
func (b *Browser) Refresh(ctx context.Context) (*Listing, error) {
	listing, err := b.List(ctx)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.last = listing
	b.mu.Unlock()

	if b.index != nil {
		if err := b.index.Put(ctx, listing); err != nil {
			b.log.WithError(err).Warn("failed to store lobby snapshot")
		}
	}
	b.log.WithFields(logrus.Fields{"lobbies": len(listing.Lobbies), "failed": len(listing.Failed)}).Debug("lobby snapshot refreshed")
	return listing, nil
}

// Snapshot returns the latest stored listing, refreshing when none exists.
func (b *Browser) Snapshot(ctx context.Context) (*Listing, error) {
	if b.index != nil {
		var listing Listing
		found, err := b.index.Get(ctx, &listing)
		if err != nil {
			b.log.WithError(err).Warn("failed to read lobby snapshot")
		}
		if found {
			return &listing, nil
		}
	}
	b.mu.RLock()
	last := b.last
	b.mu.RUnlock()
	if last != nil {
		return last, nil
	}
	return b.Refresh(ctx)
}
