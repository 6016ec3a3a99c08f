package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestKafkaHeaderCarrier_SetAndGet(t *testing.T) {
	headers := []kafka.Header{{Key: "existing", Value: []byte("value1")}}
	carrier := &KafkaHeaderCarrier{headers: &headers}

	if got := carrier.Get("existing"); got != "value1" {
		t.Errorf("Get(existing) = %q, want %q", got, "value1")
	}
	if got := carrier.Get("missing"); got != "" {
		t.Errorf("Get(missing) = %q, want empty", got)
	}

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("Get(traceparent) = %q", got)
	}

	carrier.Set("existing", "updated")
	if got := carrier.Get("existing"); got != "updated" {
		t.Errorf("Get(existing) after update = %q, want %q", got, "updated")
	}
	if len(headers) != 2 {
		t.Errorf("len(headers) = %d, want 2", len(headers))
	}
}

func TestKafkaHeaderCarrier_Keys(t *testing.T) {
	headers := []kafka.Header{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}
	carrier := &KafkaHeaderCarrier{headers: &headers}

	keys := carrier.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys() = %v, want [a b]", keys)
	}

	empty := []kafka.Header{}
	if n := len((&KafkaHeaderCarrier{headers: &empty}).Keys()); n != 0 {
		t.Errorf("Keys() on empty headers = %d, want 0", n)
	}
}
