package publish

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the publisher uses
type fakeClient struct {
	mqtt.Client
	mu   sync.Mutex
	fail error
	out  chan published
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	fail := c.fail
	c.mu.Unlock()
	if fail == nil {
		c.out <- published{topic: topic, qos: qos, payload: payload.([]byte)}
	}
	return newToken(fail)
}

func (c *fakeClient) IsConnected() bool { return true }
func (c *fakeClient) Disconnect(uint)   {}

func startFake(t *testing.T, cfg Config) (*Publisher, *fakeClient) {
	t.Helper()
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	client := &fakeClient{out: make(chan published, 16)}
	p.start(client)
	t.Cleanup(func() { p.Close() })
	return p, client
}

func receive(t *testing.T, c *fakeClient) published {
	t.Helper()
	select {
	case m := <-c.out:
		return m
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}
	return published{}
}

func TestPublishesResultsAsJSON(t *testing.T) {
	p, client := startFake(t, Config{Broker: "localhost:1883", Topic: "gym/cam1/", QoS: 1})

	p.OnResult(pose.DetectionResult{
		Landmarks:       []pose.Landmark{{X: 0.5, Y: 0.25, Visibility: 1}},
		InferenceTimeMs: 12,
		ImageWidth:      480,
		ImageHeight:     640,
	})
	m := receive(t, client)
	if m.topic != "gym/cam1/result" || m.qos != 1 {
		t.Errorf("topic = %q qos = %d", m.topic, m.qos)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != pose.EventDetectionResult || got["inferenceTimeMs"] != float64(12) || got["imageHeight"] != float64(640) {
		t.Errorf("payload = %v", got)
	}

	p.OnError(pose.Errorf(pose.CodeEngineBackend, nil, "model crashed"))
	m = receive(t, client)
	if m.topic != "gym/cam1/error" {
		t.Errorf("error topic = %q", m.topic)
	}

	deadline := time.Now().Add(time.Second)
	for p.Stats().Published["gym/cam1/error"] == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s := p.Stats(); s.Published["gym/cam1/result"] != 1 || s.Published["gym/cam1/error"] != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestPublishesMsgpack(t *testing.T) {
	p, client := startFake(t, Config{Broker: "localhost", Encoding: EncodingMsgpack})

	p.OnError(pose.Errorf(pose.CodeWrongMode, nil, "stream mode required"))
	m := receive(t, client)
	if m.topic != "posestreamer/error" {
		t.Errorf("topic = %q", m.topic)
	}
	var got pose.ErrorEvent
	if err := msgpack.Unmarshal(m.payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != pose.EventError || got.Code != pose.CodeWrongMode || got.Message != "stream mode required" {
		t.Errorf("decoded = %+v", got)
	}
}

func TestPublishFailuresAreCounted(t *testing.T) {
	p, client := startFake(t, Config{Broker: "localhost"})
	client.mu.Lock()
	client.fail = errors.New("not connected")
	client.mu.Unlock()

	p.OnResult(pose.DetectionResult{})
	deadline := time.Now().Add(time.Second)
	for p.Stats().Errors == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := p.Stats().Errors; got != 1 {
		t.Errorf("errors = %d", got)
	}
}

func TestFullQueueDrops(t *testing.T) {
	p, err := New(Config{Broker: "localhost", QueueSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	// no worker: the queue only fills
	for i := 0; i < 5; i++ {
		p.OnResult(pose.DetectionResult{})
	}
	if got := p.Stats().Dropped; got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing broker", Config{}},
		{"bad encoding", Config{Broker: "b", Encoding: "xml"}},
		{"bad qos", Config{Broker: "b", QoS: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]Encoding{"": EncodingJSON, "JSON": EncodingJSON, "msgpack": EncodingMsgpack} {
		got, err := ParseEncoding(in)
		if err != nil || got != want {
			t.Errorf("ParseEncoding(%q) = %q, %v", in, got, err)
		}
	}
}
