package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestProducer_SendAddsHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicCheckoutEvents {
			t.Errorf("unexpected topic %s", msg.Topic)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventName {
			t.Errorf("unexpected headers %+v", msg.Headers)
		}
		return nil
	})

	producer := newProducer(mockProducer, nil)
	if err := producer.Send(TopicCheckoutEvents, "s-1", []byte(`{}`), map[string]string{HeaderEventName: "checkout.started"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_SendError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := newProducer(mockProducer, nil)
	if err := producer.Send(TopicCheckoutEvents, "s-1", []byte(`{}`), nil); err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	if _, err := NewProducer(nil, "checkout", nil); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestEventName(t *testing.T) {
	cases := map[string]string{
		domain.EventCheckoutCompleted:     "checkout.completed",
		domain.EventCheckoutPaymentFailed: "checkout.failed",
		domain.EventCheckoutRedirected:    "checkout.redirected",
		domain.EventOrderCreated:          "order.created",
		"Custom":                          "Custom",
	}
	for in, want := range cases {
		if got := EventName(in); got != want {
			t.Errorf("EventName(%s) = %s, want %s", in, got, want)
		}
	}
}
