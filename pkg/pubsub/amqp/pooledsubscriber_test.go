/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

func TestPooledSubscriber(t *testing.T) {
	const topic = "pooled"

	t.Run("Success", func(t *testing.T) {
		s := newMockInitSubscriber()

		p, err := newPooledSubscriber(context.Background(), 3, s, topic)
		require.NoError(t, err)
		require.Len(t, s.chans, 3)

		p.start()

		const n = 9

		for i := 0; i < n; i++ {
			s.chans[i%len(s.chans)] <- message.NewMessage(watermill.NewUUID(), []byte("payload"))
		}

		for i := 0; i < n; i++ {
			select {
			case msg := <-p.msgChan:
				require.NotNil(t, msg)
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for message")
			}
		}

		s.closeAll()

		time.Sleep(50 * time.Millisecond)

		p.stop()
	})

	t.Run("Subscriber error", func(t *testing.T) {
		errExpected := errors.New("injected subscriber error")

		s := &mockInitSubscriber{mockClosable: &mockClosable{}, err: errExpected}

		_, err := newPooledSubscriber(context.Background(), 10, s, topic)
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
	})
}
