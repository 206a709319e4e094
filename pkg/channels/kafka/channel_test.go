package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowmedic/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChannel_NoBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, nil, "flowmedic")
	require.ErrorIs(t, err, ErrNoBrokers)

	_, _, err = CreateChannel(watermill.NopLogger{}, []string{""}, "flowmedic")
	require.ErrorIs(t, err, ErrNoBrokers)
}

func TestMarshaler_PartitionsByEventKey(t *testing.T) {
	msg := message.NewMessage("msg-1", []byte(`{}`))
	msg.Metadata.Set(events.EventMetadataKey, "exec-42")

	produced, err := Marshaler().Marshal(events.Topic, msg)
	require.NoError(t, err)

	key, err := produced.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "exec-42", string(key))
}
