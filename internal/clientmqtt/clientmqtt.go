package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"dmxeffects/internal/dmx"
	"dmxeffects/internal/logger"
	"dmxeffects/internal/module"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	ctx       context.Context
	log       logger.Logger
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions
	samples   dmx.SampleSink

	outbound chan message // очередь публикаций для sendBackground
	dropped  uint64       // сообщения, отброшенные при переполненной очереди

	mu   sync.Mutex
	last [dmx.Channels]int // последнее опубликованное значение, -1 - нет
}

// publishBuffer holds two frames of value changes.
const publishBuffer = 2 * dmx.Channels

type message struct {
	topic    string
	retained bool
	payload  interface{}
}

// MQTTClient is a convenience interface to use within this application.
type MQTTClient interface {
	Start(ctx context.Context, samples dmx.SampleSink) error
	Stop() error
	HandleEvent(ev dmx.Event)
	PublishCue(c module.Cue)
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfgClient MQTTConf) *ClientMQTT {
	c := &ClientMQTT{
		log:       log,
		cfgClient: cfgClient,
		outbound:  make(chan message, publishBuffer),
	}
	c.resetLast()
	return c
}

// Start подключается к брокеру. Если samples не nil, клиент подписывается
// на <prefix>/input и складывает принятые сэмплы в очередь.
func (c *ClientMQTT) Start(ctx context.Context, samples dmx.SampleSink) error {
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	c.ctx = ctx
	c.samples = samples

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		// Очередь рассчитана на одного производителя: сообщения обрабатываются по порядку.
		SetOrderMatters(true).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	go c.sendBackground(ctx)

	c.log.With(logger.Fields{"module": "mqtt"}).Infof("Status: %v", c.client.IsConnected())
	return nil
}

func (c *ClientMQTT) Stop() error {
	if n := c.Dropped(); n > 0 {
		c.log.With(logger.Fields{"module": "mqtt"}).Warnf("%d messages dropped, publisher was busy", n)
	}
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	return nil
}

// Dropped returns the number of messages discarded because the outbound queue was full.
func (c *ClientMQTT) Dropped() uint64 {
	return atomic.LoadUint64(&c.dropped)
}

// sendBackground publishes queued messages until ctx is done.
func (c *ClientMQTT) sendBackground(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.outbound:
			c.publish(m.topic, m.retained, m.payload)
		}
	}
}

func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.With(logger.Fields{"module": "mqtt"}).Info("client connected to server")
	// После переподключения брокер должен получить полное состояние заново.
	c.resetLast()
	if c.samples != nil {
		c.sub(c.topic("input"))
	}
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.With(logger.Fields{"module": "mqtt"}).Errorf("server connect lost: %v", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("received %d bytes from topic: %s", len(msg.Payload()), msg.Topic())
	if msg.Topic() != c.topic("input") || c.samples == nil {
		return
	}
	n, err := c.queueSamples(msg.Payload())
	if err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Errorf("message could not be parsed (%s): %v", msg.Payload(), err)
		return
	}
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("%d samples queued", n)
}

func (c *ClientMQTT) queueSamples(payload []byte) (int, error) {
	var data Samples
	if err := json.Unmarshal(payload, &data); err != nil {
		return 0, err
	}
	for _, s := range data {
		c.samples.Add(s)
	}
	return len(data), nil
}

func (c *ClientMQTT) sub(topic string) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, nil)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("topic %s subscription error. %v", topic, token.Error())
				return
			}
		}
		c.log.With(logger.Fields{"module": "mqtt"}).Debugf("topic %s subscribed", topic)
	}()
}

// HandleEvent ставит событие Universe в очередь публикации и не блокируется.
// Значения каналов публикуются только при изменении, чтобы не отправлять
// 512 сообщений на каждый кадр.
func (c *ClientMQTT) HandleEvent(ev dmx.Event) {
	switch e := ev.(type) {
	case dmx.ValueChanged:
		if !c.changed(e.Channel, e.Value) {
			return
		}
		if !c.enqueue(c.topic(fmt.Sprintf("value/%d", e.Channel)), false, ValuePayload{Channel: e.Channel, Value: e.Value}) {
			// Следующее значение канала должно уйти, даже если оно совпадёт с этим.
			c.forget(e.Channel)
		}
	case dmx.AssociationChanged:
		c.enqueue(c.topic(fmt.Sprintf("association/%d", e.Channel)), true, AssociationPayload{Channel: e.Channel, Label: e.Label})
	case dmx.AssociationsRemoved:
		c.enqueue(c.topic("association/removed"), false, RemovalPayload{FirstChannel: e.FirstChannel, Count: e.Count})
	}
}

// PublishCue implements module.CueSink.
func (c *ClientMQTT) PublishCue(cue module.Cue) {
	c.enqueue(c.topic("cue/"+cue.Module), false, cue)
}

// enqueue hands a message to sendBackground. It reports false if the queue
// was full and the message was dropped.
func (c *ClientMQTT) enqueue(topic string, retained bool, payload interface{}) bool {
	select {
	case c.outbound <- message{topic: topic, retained: retained, payload: payload}:
		return true
	default:
		atomic.AddUint64(&c.dropped, 1)
		return false
	}
}

func (c *ClientMQTT) publish(topic string, retained bool, v interface{}) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}
	msg, err := json.Marshal(v)
	if err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Errorf("marshal %s: %v", topic, err)
		return
	}
	token := c.client.Publish(topic, c.cfgClient.Qos, retained, msg)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("error publish topic %s. %v", topic, token.Error())
			}
		}
	}()
}

// changed records value for channel and reports whether it differs from the
// last published one.
func (c *ClientMQTT) changed(channel, value int) bool {
	if !dmx.ValidateChannelNumber(channel) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last[channel-1] == value {
		return false
	}
	c.last[channel-1] = value
	return true
}

func (c *ClientMQTT) forget(channel int) {
	c.mu.Lock()
	c.last[channel-1] = -1
	c.mu.Unlock()
}

func (c *ClientMQTT) resetLast() {
	c.mu.Lock()
	for i := range c.last {
		c.last[i] = -1
	}
	c.mu.Unlock()
}

func (c *ClientMQTT) topic(suffix string) string {
	return c.cfgClient.TopicPrefix + "/" + suffix
}
