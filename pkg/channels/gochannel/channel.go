// Package gochannel provides the in-memory watermill pub/sub used by single-process deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const DefaultBuffer = 1000

type Options struct {
	// Buffer is the output buffer of each subscriber. Zero means DefaultBuffer.
	Buffer int64
}

// CreateChannel returns one GoChannel acting as both publisher and subscriber.
//
// GoChannel hands every message to its own goroutine, so ordering only holds because
// Publish blocks until subscribers ack. Two events published one after the other are
// handled in that order. Handlers must not publish, and a nacked message is redelivered
// while its publisher waits.
func CreateChannel(logger watermill.LoggerAdapter, opts Options) *gochannel.GoChannel {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}

	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            opts.Buffer,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
}
