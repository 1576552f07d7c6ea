package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"media-transcription/config"
	"media-transcription/event"
)

type recordingAcknowledger struct {
	acked   []uint64
	nacked  []uint64
	requeue bool
}

func (r *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	r.acked = append(r.acked, tag)
	return nil
}

func (r *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	r.nacked = append(r.nacked, tag)
	r.requeue = requeue
	return nil
}

func (r *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return r.Nack(tag, false, requeue)
}

func TestDispatch(t *testing.T) {
	ack := &recordingAcknowledger{}
	ok := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, MessageId: "7", Body: []byte(`{"mediaFileId":7}`)}
	bad := amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, MessageId: "8", Body: []byte(`{}`)}

	var seen event.Message
	handler := func(ctx context.Context, msg event.Message) error {
		seen = msg
		if msg.Key == "8" {
			return errors.New("decode failed")
		}
		return nil
	}

	dispatch(context.Background(), "media-uploaded", ok, handler)
	if seen.Topic != "media-uploaded" || seen.Key != "7" || string(seen.Value) != `{"mediaFileId":7}` {
		t.Fatalf("handler saw %+v", seen)
	}
	dispatch(context.Background(), "media-uploaded", bad, handler)

	if len(ack.acked) != 1 || ack.acked[0] != 1 {
		t.Fatalf("acked = %v, want [1]", ack.acked)
	}
	if len(ack.nacked) != 1 || ack.nacked[0] != 2 || ack.requeue {
		t.Fatalf("nacked = %v requeue=%v, want [2] without requeue", ack.nacked, ack.requeue)
	}
}

func TestDispatchRequeuesInterruptedMessage(t *testing.T) {
	ack := &recordingAcknowledger{}
	msg := amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, MessageId: "9"}

	ctx, cancel := context.WithCancel(context.Background())
	dispatch(ctx, "media-uploaded", msg, func(ctx context.Context, _ event.Message) error {
		cancel()
		return ctx.Err()
	})

	if len(ack.acked) != 0 {
		t.Fatalf("acked = %v, want none", ack.acked)
	}
	if len(ack.nacked) != 1 || ack.nacked[0] != 3 || !ack.requeue {
		t.Fatalf("nacked = %v requeue=%v, want [3] with requeue", ack.nacked, ack.requeue)
	}
}

func TestTopologyFor(t *testing.T) {
	tp := topologyFor(&config.RabbitMQ{ExchangeName: "media_exchange"}, "media-uploaded", "transcription-service")
	if tp.queue != "transcription-service.media-uploaded" || tp.routingKey != "media-uploaded" {
		t.Fatalf("queue binding = %+v", tp)
	}
	if tp.dlx != "media_exchange_dlx" || tp.dlq != "transcription-service.media-uploaded.dlq" {
		t.Fatalf("dead letter = %+v", tp)
	}
}
