/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package nodeinfo

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
	apstore "github.com/petrel-fed/petrel/pkg/activitypub/store/spi"
	"github.com/petrel-fed/petrel/pkg/activitypub/vocab"
	"github.com/petrel-fed/petrel/pkg/lifecycle"
)

var logger = log.New("nodeinfo")

// ServerVersion may be overridden at build time.
var ServerVersion = "latest"

type stats struct {
	Posts    int
	Comments int
}

func (s *stats) String() string {
	return fmt.Sprintf("Posts: %d, Comments: %d", s.Posts, s.Comments)
}

// Service periodically polls the activity store and produces NodeInfo data.
type Service struct {
	*lifecycle.Lifecycle

	done                    chan struct{}
	interval                time.Duration
	sharedInboxURL          string
	localActorIRIs          []*url.URL
	apStore                 apstore.Store
	stats                   *stats
	mutex                   sync.RWMutex
	multipleTagQueryCapable bool
}

// NewService returns a new NodeInfo service that reports usage statistics for the
// given local actors. If the server uses a storage provider that can do queries
// using two tags then the stats are updated using total counts from the storage
// provider, otherwise the outbox activities are iterated.
func NewService(instanceBaseURL *url.URL, localActorIRIs []*url.URL, refreshInterval time.Duration,
	apStore apstore.Store, multipleTagQueryCapable bool) *Service {
	r := &Service{
		apStore:                 apStore,
		sharedInboxURL:          instanceBaseURL.JoinPath("inbox").String(),
		localActorIRIs:          localActorIRIs,
		done:                    make(chan struct{}),
		interval:                refreshInterval,
		stats:                   &stats{},
		multipleTagQueryCapable: multipleTagQueryCapable,
	}

	r.Lifecycle = lifecycle.New("nodeinfo",
		lifecycle.WithStart(r.start),
		lifecycle.WithStop(r.stop))

	return r
}

// GetNodeInfo returns a NodeInfo struct compatible with the given version.
func (r *Service) GetNodeInfo(version Version) *NodeInfo {
	var protocols interface{}

	if version == V1_0 {
		protocols = &protocolsV1_0{
			Inbound:  []string{activityPubProtocol},
			Outbound: []string{activityPubProtocol},
		}
	} else {
		protocols = []string{activityPubProtocol}
	}

	r.mutex.RLock()

	stats := r.stats

	r.mutex.RUnlock()

	return &NodeInfo{
		Version:   version,
		Protocols: protocols,
		Software: Software{
			Name:    "petrel",
			Version: ServerVersion,
		},
		Services: Services{
			Inbound:  []string{},
			Outbound: []string{},
		},
		OpenRegistrations: false,
		Usage: Usage{
			Users: Users{
				Total: len(r.localActorIRIs),
			},
			LocalPosts:     stats.Posts,
			LocalComments:  stats.Comments,
			SharedInboxURL: r.sharedInboxURL,
		},
	}
}

func (r *Service) start() {
	go r.refresh()

	logger.Info("Started NodeInfo service")
}

func (r *Service) stop() {
	close(r.done)

	logger.Info("Stopped NodeInfo service")
}

func (r *Service) refresh() {
	for {
		select {
		case <-time.After(r.interval):
			if err := r.retrieve(); err != nil {
				logger.Warn("Error updating stats", log.WithError(err))
			}
		case <-r.done:
			logger.Debug("Exiting stats retriever.")

			return
		}
	}
}

func (r *Service) retrieve() error {
	s := &stats{}

	for _, actorIRI := range r.localActorIRIs {
		if !r.multipleTagQueryCapable {
			if err := r.addStatsUsingSingleTagQuery(s, actorIRI); err != nil {
				return err
			}

			continue
		}

		if err := r.addStatsUsingMultiTagQuery(s, actorIRI); err != nil {
			return err
		}
	}

	logger.Debug("Updated stats", logfields.WithPayload([]byte(s.String())))

	r.mutex.Lock()

	r.stats = s

	r.mutex.Unlock()

	return nil
}

func (r *Service) addStatsUsingSingleTagQuery(s *stats, actorIRI *url.URL) error {
	it, err := r.apStore.QueryActivities(
		apstore.NewCriteria(
			apstore.WithReferenceType(apstore.Outbox),
			apstore.WithObjectIRI(actorIRI),
		),
	)
	if err != nil {
		return fmt.Errorf("query outbox: %w", err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			logfields.CloseIteratorError(logger, err)
		}
	}()

	for {
		activity, err := it.Next()
		if err != nil {
			if errors.Is(err, apstore.ErrNotFound) {
				break
			}

			return fmt.Errorf("query outbox: %w", err)
		}

		switch {
		case activity.Type().Is(vocab.TypeCreate):
			s.Posts++
		case activity.Type().Is(vocab.TypeLike):
			s.Comments++
		}
	}

	return nil
}

func (r *Service) addStatsUsingMultiTagQuery(s *stats, actorIRI *url.URL) error {
	posts, err := r.totalActivityCount(actorIRI, vocab.TypeCreate)
	if err != nil {
		return fmt.Errorf("get total posts: %w", err)
	}

	comments, err := r.totalActivityCount(actorIRI, vocab.TypeLike)
	if err != nil {
		return fmt.Errorf("get total comments: %w", err)
	}

	s.Posts += posts
	s.Comments += comments

	return nil
}

func (r *Service) totalActivityCount(actorIRI *url.URL, activityType vocab.Type) (int, error) {
	it, err := r.apStore.QueryReferences(apstore.Outbox,
		apstore.NewCriteria(
			apstore.WithObjectIRI(actorIRI),
			apstore.WithType(activityType),
		),
	)
	if err != nil {
		return -1, fmt.Errorf("query outbox for %s activities: %w", activityType, err)
	}

	defer func() {
		if err := it.Close(); err != nil {
			logfields.CloseIteratorError(logger, err)
		}
	}()

	total, err := it.TotalItems()
	if err != nil {
		return -1, fmt.Errorf("get total items for %s activities: %w", activityType, err)
	}

	return total, nil
}
