package eventbus

import (
	"context"
	"time"
)

// ConsumeWithDLT wraps a Handler with a bounded retry-then-dead-letter
// policy (§7 propagation policy, §4.8): a failing message gets up to
// maxAttempts tries with a fixed retryDelay between them, and on final failure is forwarded
// to dltProducer (normally the topic's ".DLT" sibling, see DLTTopic) with
// the failure recorded in its headers, then acknowledged — a message that
// exhausted retries must not block the partition forever.
func ConsumeWithDLT(ctx context.Context, consumer Consumer, dltProducer Producer, maxAttempts int, retryDelay time.Duration, handler Handler) error {
	return consumer.Consume(ctx, func(ctx context.Context, msg *Message) error {
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if lastErr = handler(ctx, msg); lastErr == nil {
				return nil
			}
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(retryDelay):
				}
			}
		}

		// Topic is left unset — dltProducer was obtained from Broker.Producer
		// for the DLT topic, and every Producer implementation fills in its
		// own configured topic when Message.Topic is empty.
		dlt := &Message{
			Key:       msg.Key,
			Payload:   msg.Payload,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Headers:   headersWithFailure(msg.Headers, msg.Topic, lastErr),
		}
		if err := dltProducer.Publish(ctx, dlt); err != nil {
			// The DLT publish itself failed — leave the original message
			// unacknowledged so the broker's own redelivery gives this a
			// later chance rather than silently dropping it.
			return err
		}
		return nil
	})
}

func headersWithFailure(original map[string]string, originalTopic string, err error) map[string]string {
	headers := make(map[string]string, len(original)+2)
	for k, v := range original {
		headers[k] = v
	}
	headers["original_topic"] = originalTopic
	if err != nil {
		headers["exception_message"] = err.Error()
	}
	return headers
}
