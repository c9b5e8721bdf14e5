package mq

import (
	"strings"
	"testing"
	"time"
)

func TestRoutesLandInDeclaredQueues(t *testing.T) {
	bound := make(map[route]Queue)
	for _, q := range topology {
		bound[route{q.exchange, q.key}] = q.name
	}

	for msgType, r := range routes {
		if _, ok := bound[r]; !ok {
			t.Errorf("%s is published to %s/%s, but no queue is bound there", msgType, r.exchange, r.key)
		}
	}
}

func TestRequestQueueDeadLetters(t *testing.T) {
	var found bool
	for _, q := range topology {
		if q.name != QueueOrchestrationsRequested {
			continue
		}
		found = true
		dlx, _ := q.args["x-dead-letter-exchange"].(string)
		key, _ := q.args["x-dead-letter-routing-key"].(string)
		if _, ok := boundQueue(Exchange(dlx), RoutingKey(key)); !ok {
			t.Errorf("dead letters go to %s/%s, but no queue is bound there", dlx, key)
		}
	}
	if !found {
		t.Fatal("request queue is not declared")
	}
}

func boundQueue(ex Exchange, key RoutingKey) (Queue, bool) {
	for _, q := range topology {
		if q.exchange == ex && q.key == key {
			return q.name, true
		}
	}
	return "", false
}

func TestNextDelay(t *testing.T) {
	delay := time.Second
	var got []time.Duration
	for range 6 {
		delay = nextDelay(delay, 10*time.Second)
		got = append(got, delay)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestDialConfigDefaults(t *testing.T) {
	cfg := DialConfig{URL: DefaultURL(), ReconnectBase: time.Minute}.withDefaults()

	if cfg.Name == "" {
		t.Error("expected connection name from binary")
	}
	if cfg.Heartbeat != DefaultHeartbeat {
		t.Errorf("heartbeat: expected %v, got %v", DefaultHeartbeat, cfg.Heartbeat)
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		t.Errorf("max %v below base %v", cfg.ReconnectMax, cfg.ReconnectBase)
	}
}

func TestRedactURL(t *testing.T) {
	got := RedactURL("amqp://ensemble:secret@mq:5672/")
	if strings.Contains(got, "secret") {
		t.Errorf("password leaked: %q", got)
	}
	if !strings.Contains(got, "ensemble:xxxxx@mq") {
		t.Errorf("unexpected redacted url: %q", got)
	}

	if got := RedactURL("not a url"); got != "amqp://<invalid>" {
		t.Errorf("expected invalid marker, got %q", got)
	}
}
