package reporter

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jypelle/authbox/apimodel"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	lock sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.sent = append(p.sent, published{topic, qos, retained, payload.([]byte)})
	return newFakeToken(p.err)
}

func TestReportPublishesJson(t *testing.T) {
	pub := &fakePublisher{}
	r := &MqttReporter{client: pub, qos: 1, prefix: "site", device: "front-door"}

	at := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	r.Report(apimodel.AccessEvent{Badge: "0042", Holder: "Alice", Granted: true, Time: at})

	if len(pub.sent) != 1 {
		t.Fatalf("published %d messages", len(pub.sent))
	}
	msg := pub.sent[0]
	if msg.topic != "site/front-door/access" || msg.qos != 1 || msg.retained {
		t.Errorf("message = %+v", msg)
	}
	var ev apimodel.AccessEvent
	if err := json.Unmarshal(msg.payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Device != "front-door" || ev.Badge != "0042" || ev.Holder != "Alice" || !ev.Granted || !ev.Time.Equal(at) {
		t.Errorf("event = %+v", ev)
	}
	if r.StatusTopic() != "site/front-door/status" {
		t.Errorf("status topic = %s", r.StatusTopic())
	}
}

func TestReportFailureIsLogged(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	r := &MqttReporter{client: &fakePublisher{err: errors.New("not connected")}, prefix: "authbox", device: "d"}
	r.Report(apimodel.AccessEvent{Granted: false})

	deadline := time.Now().Add(time.Second)
	for len(hook.AllEntries()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if e := hook.LastEntry(); e == nil || e.Message != "Publish on authbox/d/access failed: not connected" {
		t.Errorf("last log entry = %v", e)
	}
}
