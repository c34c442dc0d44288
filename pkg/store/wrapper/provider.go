/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package wrapper

import "github.com/hyperledger/aries-framework-go/spi/storage"

// ProviderWrapper wraps an aries storage provider so that every store it opens
// records operation durations.
type ProviderWrapper struct {
	p       storage.Provider
	dbType  string
	metrics metricsProvider
}

// NewProvider returns a new store provider wrapper.
func NewProvider(p storage.Provider, dbType string, metrics metricsProvider) *ProviderWrapper {
	return &ProviderWrapper{p: p, dbType: dbType, metrics: metrics}
}

// OpenStore open store.
func (prov *ProviderWrapper) OpenStore(name string) (storage.Store, error) {
	s, err := prov.p.OpenStore(name)
	if err != nil {
		return nil, err
	}

	return NewStore(s, prov.dbType, prov.metrics), nil
}

// SetStoreConfig set store config.
func (prov *ProviderWrapper) SetStoreConfig(name string, config storage.StoreConfiguration) error {
	return prov.p.SetStoreConfig(name, config)
}

// GetStoreConfig get store config.
func (prov *ProviderWrapper) GetStoreConfig(name string) (storage.StoreConfiguration, error) {
	return prov.p.GetStoreConfig(name)
}

// GetOpenStores get stores.
func (prov *ProviderWrapper) GetOpenStores() []storage.Store {
	return prov.p.GetOpenStores()
}

// Ping verifies connectivity with the underlying database. Providers that have
// no connectivity check always succeed.
func (prov *ProviderWrapper) Ping() error {
	if p, ok := prov.p.(interface{ Ping() error }); ok {
		return p.Ping()
	}

	return nil
}

// Close provider.
func (prov *ProviderWrapper) Close() error {
	return prov.p.Close()
}
