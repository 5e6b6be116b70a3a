// Package reporter publishes access events to an MQTT broker.
//
// Publishing never blocks the dispatcher: Report hands the payload to the
// paho client and waits for the acknowledgment on its own goroutine.
package reporter

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jypelle/authbox/apimodel"
	"github.com/jypelle/authbox/internal/srv/config"
	"github.com/sirupsen/logrus"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
)

// publisher is the part of pahomqtt.Client the reporter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

type MqttReporter struct {
	client     publisher
	qos        byte
	prefix     string
	device     string
	disconnect func()
}

// NewMqttReporter starts connecting to the broker in the background.
// The paho client keeps retrying and queues publications meanwhile.
func NewMqttReporter(param *config.MqttParam, device string) *MqttReporter {
	r := &MqttReporter{
		qos:    param.Qos,
		prefix: param.TopicPrefix,
		device: device,
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(param.Broker)
	opts.SetClientID(param.ClientId)
	if param.Username != "" {
		opts.SetUsername(param.Username)
		opts.SetPassword(param.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(r.StatusTopic(), "offline", param.Qos, true)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		logrus.Infof("Connected to mqtt broker %s", param.Broker)
		c.Publish(r.StatusTopic(), param.Qos, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logrus.Warnf("Lost mqtt connection: %v", err)
	})

	client := pahomqtt.NewClient(opts)
	r.client = client
	r.disconnect = func() {
		if client.IsConnected() {
			token := client.Publish(r.StatusTopic(), r.qos, true, "offline")
			token.WaitTimeout(publishTimeout)
		}
		client.Disconnect(disconnectQuiesce)
	}

	token := client.Connect()
	go func() {
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			logrus.Warnf("Unable to connect to mqtt broker %s: %v", param.Broker, token.Error())
		}
	}()

	return r
}

func (r *MqttReporter) AccessTopic() string {
	return fmt.Sprintf("%s/%s/access", r.prefix, r.device)
}

func (r *MqttReporter) StatusTopic() string {
	return fmt.Sprintf("%s/%s/status", r.prefix, r.device)
}

// Report publishes ev on the access topic without waiting for the broker.
func (r *MqttReporter) Report(ev apimodel.AccessEvent) {
	if ev.Device == "" {
		ev.Device = r.device
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logrus.Errorf("Unable to encode access event: %v", err)
		return
	}

	topic := r.AccessTopic()
	token := r.client.Publish(topic, r.qos, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			logrus.Warnf("Publish on %s timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			logrus.Warnf("Publish on %s failed: %v", topic, err)
		}
	}()
}

func (r *MqttReporter) Close() {
	if r.disconnect != nil {
		r.disconnect()
	}
}
