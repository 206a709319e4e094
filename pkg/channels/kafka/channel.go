// Package kafka wires the Kafka-backed watermill publisher and subscriber.
package kafka

import (
	"errors"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowmedic/pkg/events"
)

var ErrNoBrokers = errors.New("kafka: no brokers configured")

// Marshaler partitions messages by the event key so every event of one
// execution lands on the same partition and keeps its publish order.
func Marshaler() kafka.MarshalerUnmarshaler {
	return kafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
		return msg.Metadata.Get(events.EventMetadataKey), nil
	})
}

func CreateChannel(logger watermill.LoggerAdapter, brokers []string, serviceName string) (*kafka.Publisher, *kafka.Subscriber, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, nil, ErrNoBrokers
	}

	marshaler := Marshaler()

	saramaSubscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaSubscriberConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			OverwriteSaramaConfig: saramaSubscriberConfig,
			ConsumerGroup:         "cg-" + serviceName,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	saramaPublisherConfig := kafka.DefaultSaramaSyncPublisherConfig()
	saramaPublisherConfig.Producer.Partitioner = sarama.NewHashPartitioner

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: saramaPublisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, err
	}

	return publisher, subscriber, nil
}
