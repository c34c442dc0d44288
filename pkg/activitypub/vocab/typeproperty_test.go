/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeProperty(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		require.Nil(t, NewTypeProperty())

		var p *TypeProperty

		require.Empty(t, p.String())
		require.Nil(t, p.Types())
		require.False(t, p.Is(TypeNote))
		require.False(t, p.IsAny(TypeNote))
	})

	t.Run("Single type", func(t *testing.T) {
		p := NewTypeProperty(TypeCreate)

		require.Equal(t, "Create", p.String())
		require.True(t, p.Is(TypeCreate))
		require.False(t, p.Is(TypeAnnounce))
		require.True(t, p.IsAny(TypeAnnounce, TypeCreate))
		require.True(t, p.IsActivity())

		bytes, err := json.Marshal(p)
		require.NoError(t, err)
		require.Equal(t, `"Create"`, string(bytes))
	})

	t.Run("Multiple types", func(t *testing.T) {
		p := NewTypeProperty(TypeNote, TypeArticle)

		require.True(t, p.Is(TypeNote, TypeArticle))
		require.False(t, p.Is(TypeNote, TypeTombstone))
		require.True(t, p.IsAny(TypeTombstone, TypeArticle))
		require.False(t, p.IsActivity())

		bytes, err := json.Marshal(p)
		require.NoError(t, err)

		p2 := &TypeProperty{}
		require.NoError(t, json.Unmarshal(bytes, p2))
		require.Len(t, p2.Types(), 2)
	})

	t.Run("Unmarshal single string", func(t *testing.T) {
		p := &TypeProperty{}
		require.NoError(t, json.Unmarshal([]byte(`"Follow"`), p))
		require.True(t, p.Is(TypeFollow))
	})

	t.Run("Invalid JSON -> error", func(t *testing.T) {
		p := &TypeProperty{}
		require.Error(t, json.Unmarshal([]byte(`{"not":"a type"}`), p))
	})
}
