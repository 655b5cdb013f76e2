package drivers

import (
	"context"
	"sync"

	"cdr.dev/slog/v3"
	"github.com/coder/retry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"livechart/config"
	"livechart/metrics"
)

const (
	MQTT_DRIVER        = "mqtt"
	DISCONNECT_QUIESCE = 250 // ms
)

// mqttClient is the part of mqtt.Client we use.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	IsConnected() bool
}

// MQTT subscribes to every unit's reading topic on a broker. It lives for the whole session: connect
// happens once in Run, the broker connection is kept up (with backoff when reconnect is enabled) and the
// subscription is renewed on every reconnect.
type MQTT struct {
	*config.MQTTFlags
	ingester

	newClient func(opts *mqtt.ClientOptions) mqttClient
	client    mqttClient
	state     *stateTracker

	mu          sync.Mutex
	connections int
}

func NewMQTT(
	flags *config.MQTTFlags,
	filter TopicFilter,
	recorder Recorder,
	m *metrics.Metrics,
	logger slog.Logger,
) *MQTT {
	d := &MQTT{
		MQTTFlags: flags,
		ingester: ingester{
			driver:   MQTT_DRIVER,
			filter:   filter,
			recorder: recorder,
			metrics:  m,
			logger:   logger.Named("mqtt"),
		},
		newClient: func(opts *mqtt.ClientOptions) mqttClient {
			return mqtt.NewClient(opts)
		},
	}
	d.state = newStateTracker(d.observeState)
	return d
}

func (d *MQTT) Init(_ context.Context) error {
	if d.Broker == "" {
		return xerrors.New("mqtt broker is required")
	}
	clientID := d.ClientID
	if clientID == "" {
		clientID = "livechart-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(d.Broker).
		SetClientID(clientID).
		SetUsername(d.Username).
		SetPassword(d.Password).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetConnectTimeout(d.ConnectTimeout).
		SetAutoReconnect(d.Reconnect).
		SetMaxReconnectInterval(d.BackoffCeiling).
		SetOnConnectHandler(d.onConnect).
		SetConnectionLostHandler(d.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			d.state.set(Connecting)
		})

	d.client = d.newClient(opts)
	d.logger.Debug(context.Background(), "mqtt client configured",
		slog.F("broker", d.Broker),
		slog.F("client_id", clientID),
		slog.F("topic", d.filter.Pattern()),
	)
	return nil
}

// Run connects and then blocks until ctx is done. With reconnect disabled a failed first connect is
// returned straight away, otherwise it is retried with exponential backoff.
func (d *MQTT) Run(ctx context.Context) error {
	if d.client == nil {
		return xerrors.New("mqtt driver used before Init")
	}
	defer d.teardown(ctx)

	if err := d.connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// State reports the current connection state.
func (d *MQTT) State() ConnectionState {
	return d.state.get()
}

// Ready is closed once the first subscription is in place.
func (d *MQTT) Ready() <-chan struct{} {
	return d.state.ready
}

func (d *MQTT) connect(ctx context.Context) error {
	if !d.Reconnect {
		d.state.set(Connecting)
		if err := d.connectOnce(); err != nil {
			d.state.set(Disconnected)
			return xerrors.Errorf("connect to %s: %w", d.Broker, err)
		}
		return nil
	}

	for retrier := retry.New(d.BackoffFloor, d.BackoffCeiling); retrier.Wait(ctx); {
		d.state.set(Connecting)
		err := d.connectOnce()
		if err == nil {
			return nil
		}
		d.state.set(Disconnected)
		d.logger.Warn(ctx, "couldn't connect to broker, retrying",
			slog.F("broker", d.Broker),
			slog.Error(err),
		)
	}
	return nil
}

func (d *MQTT) connectOnce() error {
	token := d.client.Connect()
	if !token.WaitTimeout(d.ConnectTimeout) {
		return xerrors.Errorf("timed out after %s", d.ConnectTimeout)
	}
	return token.Error()
}

// onConnect runs on the first connect and on every automatic reconnect.
func (d *MQTT) onConnect(_ mqtt.Client) {
	ctx := context.Background()
	topic := d.filter.Pattern()
	token := d.client.Subscribe(topic, byte(d.QoS), d.onMessage)
	if !token.WaitTimeout(d.ConnectTimeout) {
		d.logger.Error(ctx, "subscribe timed out", slog.F("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		d.logger.Error(ctx, "couldn't subscribe", slog.F("topic", topic), slog.Error(err))
		return
	}

	d.mu.Lock()
	d.connections++
	reconnect := d.connections > 1
	d.mu.Unlock()
	if reconnect && d.metrics != nil {
		d.metrics.ReconnectsTotal.WithLabelValues(MQTT_DRIVER).Inc()
	}

	d.state.set(Connected)
	d.logger.Info(ctx, "subscribed", slog.F("topic", topic), slog.F("resubscribe", reconnect))
}

func (d *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	d.state.set(Lost)
	d.logger.Warn(context.Background(), "connection to broker lost", slog.Error(err))
}

func (d *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	d.ingest(context.Background(), msg.Topic(), msg.Payload())
}

func (d *MQTT) teardown(ctx context.Context) {
	if d.client.IsConnected() {
		token := d.client.Unsubscribe(d.filter.Pattern())
		if !token.WaitTimeout(d.ConnectTimeout) || token.Error() != nil {
			d.logger.Warn(ctx, "couldn't unsubscribe cleanly", slog.Error(token.Error()))
		}
	}
	d.client.Disconnect(DISCONNECT_QUIESCE)
	d.state.set(Disconnected)
	d.logger.Info(ctx, "disconnected from broker")
}
