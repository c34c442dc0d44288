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

func TestTagProperty(t *testing.T) {
	t.Run("Mention", func(t *testing.T) {
		mention := NewMention(MustParseURL(bobIRI), "@bob@bob.example.com")

		tag := NewTagProperty(WithLink(mention))

		require.True(t, tag.Type().Is(TypeMention))
		require.NotNil(t, tag.Link())
		require.Nil(t, tag.Object())

		bytes, err := json.Marshal(tag)
		require.NoError(t, err)
		require.JSONEq(t, jsonMention, string(bytes))

		tag2 := &TagProperty{}
		require.NoError(t, json.Unmarshal(bytes, tag2))

		link := tag2.Link()
		require.NotNil(t, link)
		require.True(t, link.Type().Is(TypeMention))
		require.Equal(t, bobIRI, link.HRef().String())
		require.Equal(t, "@bob@bob.example.com", link.Name())
	})

	t.Run("Hashtag object", func(t *testing.T) {
		tag := &TagProperty{}
		require.NoError(t, json.Unmarshal([]byte(jsonHashtag), tag))

		require.Nil(t, tag.Link())
		require.NotNil(t, tag.Object())
		require.Equal(t, "#golang", tag.Object().Name())
	})

	t.Run("Neither object nor link -> error", func(t *testing.T) {
		tag := NewTagProperty()

		_, err := json.Marshal(tag)
		require.Error(t, err)
	})
}

func TestLinkType(t *testing.T) {
	t.Run("Link with rel", func(t *testing.T) {
		link := NewLink(MustParseURL("https://sally.example.com/objects/obj1"), "alternate")

		require.True(t, link.Type().Is(TypeLink))
		require.Equal(t, "https://sally.example.com/objects/obj1", link.HRef().String())
		require.True(t, link.Rel().Is("alternate"))
		require.False(t, link.Rel().Is("canonical"))
	})

	t.Run("Nil", func(t *testing.T) {
		var link *LinkType

		require.Nil(t, link.Type())
		require.Nil(t, link.HRef())
		require.Empty(t, link.Name())
		require.Nil(t, link.Rel())
	})
}

const jsonMention = `{
  "type": "Mention",
  "href": "https://bob.example.com/users/bob",
  "name": "@bob@bob.example.com"
}`

const jsonHashtag = `{
  "type": "Hashtag",
  "href": "https://sally.example.com/tags/golang",
  "name": "#golang"
}`
