/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package nodeinfo

const (
	activityPubProtocol = "activitypub"
)

// Version specifies the version of the NodeInfo data.
type Version = string

const (
	// V1_0 is NodeInfo version 1.0 (http://nodeinfo.diaspora.software/ns/schema/1.0#).
	V1_0 Version = "1.0"

	// V2_0 is NodeInfo version 2.0 (http://nodeinfo.diaspora.software/ns/schema/2.0#).
	V2_0 Version = "2.0"
)

// NodeInfo contains NodeInfo data.
type NodeInfo struct {
	Version           string                 `json:"version"`
	Software          Software               `json:"software"`
	Protocols         interface{}            `json:"protocols"`
	Services          Services               `json:"services"`
	OpenRegistrations bool                   `json:"openRegistrations"`
	Usage             Usage                  `json:"usage"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Software contains information about the application, including version.
type Software struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Services contains third-party services this node connects to. (Currently unused.)
type Services struct {
	Inbound  []string `json:"inbound"`
	Outbound []string `json:"outbound"`
}

// Usage contains usage statistics, including the number of posts and comments
// published by the local actors, and the URL of the shared inbox.
type Usage struct {
	Users          Users  `json:"users"`
	LocalPosts     int    `json:"localPosts"`
	LocalComments  int    `json:"localComments"`
	SharedInboxURL string `json:"sharedInboxUrl,omitempty"`
}

// Users contains the number of local actors on this node.
type Users struct {
	Total int `json:"total"`
}

// protocolsV1_0 is the 'protocols' document in the 1.0 schema.
type protocolsV1_0 struct {
	Inbound  []string `json:"inbound"`
	Outbound []string `json:"outbound"`
}
