/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package expiry

import (
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/petrel-fed/petrel/internal/pkg/log"
)

const (
	loggerModule = "expiry-service"

	taskID = "data-expiry"
)

type taskManager interface {
	RegisterTask(taskID string, interval time.Duration, task func())
}

type registeredStore struct {
	store         storage.Store
	expiryTagName string
	name          string
}

// Service periodically polls registered stores and removes data past a specified
// expiration time. The check runs as a scheduled task, so that only one server instance
// within a cluster performs the cleanup at any given time.
type Service struct {
	registeredStores []registeredStore
	logger           *log.Log
	mutex            sync.RWMutex
}

// NewService returns a new expiry Service.
// interval is how frequently the service checks for (and deletes as needed) expired data.
// Shorter intervals will remove expired data sooner at the expense of increased resource
// usage. Each store that the service should poll must be registered using Register.
func NewService(taskMgr taskManager, interval time.Duration) *Service {
	s := &Service{
		registeredStores: make([]registeredStore, 0),
		logger:           log.New(loggerModule),
	}

	taskMgr.RegisterTask(taskID, interval, s.deleteExpiredData)

	return s
}

// Register adds a store to this expiry service.
// store is the store on which to check for expired data.
// expiryTagName is the tag name used to store expiry values under. The expiry values must
// be standard Unix timestamps.
// storeName identifies the store in log messages.
func (s *Service) Register(store storage.Store, expiryTagName, storeName string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.registeredStores = append(s.registeredStores, registeredStore{
		store:         store,
		expiryTagName: expiryTagName,
		name:          storeName,
	})

	s.logger.Debug("Registered store for expired data cleanup", logfields.WithStoreName(storeName))
}

func (s *Service) deleteExpiredData() {
	s.mutex.RLock()
	stores := s.registeredStores
	s.mutex.RUnlock()

	for i := range stores {
		stores[i].deleteExpiredData(s.logger)
	}
}

func (r *registeredStore) deleteExpiredData(logger *log.Log) {
	queryExpression := fmt.Sprintf("%s<=%d", r.expiryTagName, time.Now().Unix())

	logger.Debug("Querying store for expired data", logfields.WithStoreName(r.name),
		logfields.WithQuery(queryExpression))

	iterator, err := r.store.Query(queryExpression)
	if err != nil {
		logger.Error("Failed to query store for expired data", logfields.WithStoreName(r.name),
			logfields.WithError(err))

		return
	}

	var keysToDelete []string

	more, err := iterator.Next()
	if err != nil {
		logger.Error("Failed to get next value from iterator", logfields.WithStoreName(r.name),
			logfields.WithError(err))

		return
	}

	for more {
		key, errKey := iterator.Key()
		if errKey != nil {
			logger.Error("Failed to get key from iterator", logfields.WithStoreName(r.name),
				logfields.WithError(errKey))

			return
		}

		keysToDelete = append(keysToDelete, key)

		more, err = iterator.Next()
		if err != nil {
			logger.Error("Failed to get next value from iterator", logfields.WithStoreName(r.name),
				logfields.WithError(err))

			return
		}
	}

	if len(keysToDelete) == 0 {
		return
	}

	operations := make([]storage.Operation, len(keysToDelete))

	for i, key := range keysToDelete {
		operations[i] = storage.Operation{Key: key}
	}

	if err := r.store.Batch(operations); err != nil {
		logger.Error("Failed to delete expired data", logfields.WithStoreName(r.name),
			logfields.WithError(err))

		return
	}

	logger.Debug("Deleted expired data", logfields.WithStoreName(r.name),
		logfields.WithTotal(len(operations)))
}
