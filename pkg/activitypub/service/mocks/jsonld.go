/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// JSONLDProcessor implements a mock JSON-LD processor. Compact returns the
// document unchanged and Hash returns the SHA-256 of the marshalled document.
type JSONLDProcessor struct {
	Err error
}

// NewJSONLDProcessor returns a mock JSON-LD processor.
func NewJSONLDProcessor() *JSONLDProcessor {
	return &JSONLDProcessor{}
}

// Compact returns the given document unchanged.
func (m *JSONLDProcessor) Compact(doc map[string]interface{}) (map[string]interface{}, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	return doc, nil
}

// Hash returns the SHA-256 of the marshalled document.
func (m *JSONLDProcessor) Hash(doc map[string]interface{}) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}

	docBytes, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(docBytes)

	return hex.EncodeToString(hash[:]), nil
}
