/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ldcontext

import (
	"embed"
	"encoding/json"
	"os"
	"sync"
)

const payloadDir = "payload"

// Well-known context URIs that are embedded in this package.
const (
	// ActivityStreamsURI is the URI of the ActivityStreams 2.0 context.
	ActivityStreamsURI = "https://www.w3.org/ns/activitystreams"
	// SecurityV1URI is the URI of the security/v1 context.
	SecurityV1URI = "https://w3id.org/security/v1"
	// IdentityV1URI is the URI of the identity/v1 context.
	IdentityV1URI = "https://w3id.org/identity/v1"
	// PetrelV1URI is the URI of the Petrel extension context.
	PetrelV1URI = "https://ns.petrel.dev/v1"
)

// Document holds a well-known JSON-LD context document that is resolved
// without network access.
type Document struct {
	URL     string          `json:"url"`
	Content json.RawMessage `json:"content"`
}

// nolint: gochecknoglobals
var (
	//go:embed payload/*.json
	fs embed.FS

	contexts []Document
	once     sync.Once
	errOnce  error
)

// GetAll returns all predefined contexts.
func GetAll() ([]Document, error) {
	once.Do(func() {
		var entries []os.DirEntry

		entries, errOnce = fs.ReadDir(payloadDir)
		if errOnce != nil {
			return
		}

		for _, entry := range entries {
			var file os.FileInfo
			file, errOnce = entry.Info()
			if errOnce != nil {
				return
			}

			var content []byte
			// Do not use os.PathSeparator here, we are using go:embed to load files.
			// The path separator is a forward slash, even on Windows systems.
			content, errOnce = fs.ReadFile(payloadDir + "/" + file.Name())
			if errOnce != nil {
				return
			}

			var doc Document

			errOnce = json.Unmarshal(content, &doc)
			if errOnce != nil {
				return
			}

			contexts = append(contexts, doc)
		}
	})

	return append(contexts[:0:0], contexts...), errOnce
}

// MustGetAll returns all predefined contexts.
func MustGetAll() []Document {
	docs, err := GetAll()
	if err != nil {
		panic(err)
	}

	return docs
}
