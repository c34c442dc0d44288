/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ldcontext_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrel-fed/petrel/internal/pkg/ldcontext"
)

func TestGetAll(t *testing.T) {
	docs, err := ldcontext.GetAll()
	require.NoError(t, err)
	require.Len(t, docs, 4)

	urls := make(map[string]bool)

	for _, doc := range docs {
		require.NotEmpty(t, doc.URL)
		require.NotEmpty(t, doc.Content)

		urls[doc.URL] = true
	}

	require.True(t, urls[ldcontext.ActivityStreamsURI])
	require.True(t, urls[ldcontext.SecurityV1URI])
	require.True(t, urls[ldcontext.IdentityV1URI])
	require.True(t, urls[ldcontext.PetrelV1URI])
}

func TestMustGetAll(t *testing.T) {
	require.NotPanics(t, func() {
		require.Len(t, ldcontext.MustGetAll(), 4)
	})
}
