/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trustbloc/logutil-go/pkg/log"
)

func TestCommonLogs(t *testing.T) {
	const module = "test_module"

	errExpected := errors.New("injected error")

	t.Run("InvalidParameterValue", func(t *testing.T) {
		stdErr := newMockWriter()

		logger := log.New(module, log.WithStdErr(stdErr), log.WithEncoding(log.JSON))

		InvalidParameterValue(logger, "param1", errExpected)

		l := unmarshalLogData(t, stdErr.Bytes())

		require.Equal(t, "Invalid parameter value", l.Msg)
		require.Equal(t, "param1", l.Parameter)
		require.Equal(t, errExpected.Error(), l.Error)
		require.Contains(t, l.Caller, "common_test.go")
	})

	t.Run("InvalidActivityError", func(t *testing.T) {
		stdErr := newMockWriter()

		logger := log.New(module, log.WithStdErr(stdErr), log.WithEncoding(log.JSON))

		InvalidActivityError(logger, parseURL(t, "https://example1.com/activities/activity1"), errExpected)

		l := unmarshalLogData(t, stdErr.Bytes())

		require.Equal(t, "Invalid activity", l.Msg)
		require.Equal(t, "https://example1.com/activities/activity1", l.ActivityID)
		require.Equal(t, errExpected.Error(), l.Error)
	})

	t.Run("CloseIteratorError", func(t *testing.T) {
		stdOut := newMockWriter()

		logger := log.New(module, log.WithStdOut(stdOut), log.WithEncoding(log.JSON))

		CloseIteratorError(logger, errExpected)

		l := unmarshalLogData(t, stdOut.Bytes())

		require.Equal(t, "Error closing iterator", l.Msg)
		require.Equal(t, errExpected.Error(), l.Error)
	})

	t.Run("CloseResponseBodyError", func(t *testing.T) {
		stdOut := newMockWriter()

		logger := log.New(module, log.WithStdOut(stdOut), log.WithEncoding(log.JSON))

		CloseResponseBodyError(logger, errExpected)

		l := unmarshalLogData(t, stdOut.Bytes())

		require.Equal(t, "Error closing response body", l.Msg)
		require.Equal(t, errExpected.Error(), l.Error)
	})

	t.Run("ReadRequestBodyError", func(t *testing.T) {
		stdErr := newMockWriter()

		logger := log.New(module, log.WithStdErr(stdErr), log.WithEncoding(log.JSON))

		ReadRequestBodyError(logger, errExpected)

		l := unmarshalLogData(t, stdErr.Bytes())

		require.Equal(t, "Error reading request body", l.Msg)
		require.Equal(t, errExpected.Error(), l.Error)
	})

	t.Run("WriteResponseBodyError", func(t *testing.T) {
		stdErr := newMockWriter()

		logger := log.New(module, log.WithStdErr(stdErr), log.WithEncoding(log.JSON))

		WriteResponseBodyError(logger, errExpected)

		l := unmarshalLogData(t, stdErr.Bytes())

		require.Equal(t, "Error writing response body", l.Msg)
		require.Equal(t, errExpected.Error(), l.Error)
	})

	t.Run("WroteResponse", func(t *testing.T) {
		stdOut := newMockWriter()

		log.SetLevel(module, log.DEBUG)
		defer log.SetLevel(module, log.INFO)

		logger := log.New(module, log.WithStdOut(stdOut), log.WithEncoding(log.JSON))

		WroteResponse(logger, []byte("response data"))

		l := unmarshalLogData(t, stdOut.Bytes())

		require.Equal(t, "Wrote response", l.Msg)
		require.Equal(t, "response data", l.Response)
	})
}
