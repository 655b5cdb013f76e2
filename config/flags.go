package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/xerrors"
)

type DriverType string

const (
	MQTT   DriverType = "mqtt"
	Serial DriverType = "serial"
)

const (
	ENV_PREFIX        = "LIVECHART_"
	DEFAULT_BAUD_RATE = 115200
	DEFAULT_NAMESPACE = "morbidostat"
)

type Flags struct {
	Driver     DriverType
	Addr       string
	ConfigFile string
	Timezone   string
	Verbose    bool
}

type ChartFlags struct {
	Namespace   string
	Experiment  string
	ReadingKind string
	MaxPoints   int
}

type MQTTFlags struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            int
	Reconnect      bool
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	ConnectTimeout time.Duration
}

type SerialFlags struct {
	SerialPort string
	BaudRate   int
}

type Config struct {
	*Flags
	Chart  *ChartFlags
	MQTT   *MQTTFlags
	Serial *SerialFlags
}

// LoadDotEnv loads a .env file into the environment if one exists. Variables already set win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return xerrors.Errorf("load %s: %w", path, err)
	}
	return nil
}

func GetFlags() (*Config, error) {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	return ParseFlags(fs, os.Args[1:], os.LookupEnv)
}

// ParseFlags registers every flag on fs and parses args. Each flag defaults to its LIVECHART_* variable
// from lookupEnv before falling back to the built in default.
func ParseFlags(fs *pflag.FlagSet, args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	env := envLookup(lookupEnv)

	flags := &Flags{}
	var driverStr string
	fs.StringVar(&driverStr, "driver", env.getString("DRIVER", string(MQTT)), "driver used to receive readings (mqtt, serial)")
	fs.StringVar(&flags.Addr, "addr", env.getString("ADDR", ":8080"), "http listen address")
	fs.StringVar(&flags.ConfigFile, "config", env.getString("CONFIG", ""), "optional yaml file with palette and initial series")
	fs.StringVar(&flags.Timezone, "timezone", env.getString("TIMEZONE", "Local"), "IANA zone used for tick labels")
	fs.BoolVarP(&flags.Verbose, "verbose", "v", env.getBool("VERBOSE", false), "debug logging")

	chart := &ChartFlags{}
	fs.StringVar(&chart.Namespace, "namespace", env.getString("NAMESPACE", DEFAULT_NAMESPACE), "first topic segment")
	fs.StringVar(&chart.Experiment, "experiment", env.getString("EXPERIMENT", ""), "experiment whose readings are charted")
	fs.StringVar(&chart.ReadingKind, "reading", env.getString("READING", ""), "reading topic to chart, e.g. od_raw")
	fs.IntVar(&chart.MaxPoints, "max-points", env.getInt("MAX_POINTS", 1000), "points kept per unit")

	mqttFlags := &MQTTFlags{}
	fs.StringVar(&mqttFlags.Broker, "mqtt-broker", env.getString("MQTT_BROKER", "tcp://localhost:1883"), "mqtt broker url")
	fs.StringVar(&mqttFlags.ClientID, "mqtt-client-id", env.getString("MQTT_CLIENT_ID", ""), "mqtt client id, random when empty")
	fs.StringVar(&mqttFlags.Username, "mqtt-username", env.getString("MQTT_USERNAME", ""), "mqtt username")
	fs.StringVar(&mqttFlags.Password, "mqtt-password", env.getString("MQTT_PASSWORD", ""), "mqtt password")
	fs.IntVar(&mqttFlags.QoS, "mqtt-qos", env.getInt("MQTT_QOS", 0), "subscription qos (0, 1, 2)")
	fs.BoolVar(&mqttFlags.Reconnect, "mqtt-reconnect", env.getBool("MQTT_RECONNECT", true), "retry with backoff and resubscribe when the broker goes away")
	fs.DurationVar(&mqttFlags.BackoffFloor, "mqtt-backoff-floor", env.getDuration("MQTT_BACKOFF_FLOOR", 250*time.Millisecond), "first reconnect delay")
	fs.DurationVar(&mqttFlags.BackoffCeiling, "mqtt-backoff-ceiling", env.getDuration("MQTT_BACKOFF_CEILING", 30*time.Second), "longest reconnect delay")
	fs.DurationVar(&mqttFlags.ConnectTimeout, "mqtt-connect-timeout", env.getDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second), "connect and subscribe timeout")

	serial := &SerialFlags{}
	fs.StringVar(&serial.SerialPort, "serial-port", env.getString("SERIAL_PORT", "auto"), "serial device path or 'auto'")
	fs.IntVar(&serial.BaudRate, "baud", env.getInt("BAUD", DEFAULT_BAUD_RATE), "baud rate")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	flags.Driver = DriverType(driverStr)

	cfg := &Config{flags, chart, mqttFlags, serial}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Driver {
	case MQTT, Serial:
	default:
		return xerrors.Errorf("unsupported driver type %q", c.Driver)
	}
	if c.Chart.ReadingKind == "" {
		return xerrors.New("--reading is required")
	}
	if c.Chart.Experiment == "" {
		return xerrors.New("--experiment is required")
	}
	if c.Chart.MaxPoints <= 0 {
		return xerrors.Errorf("--max-points must be positive, got %d", c.Chart.MaxPoints)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return xerrors.Errorf("--mqtt-qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.BackoffFloor <= 0 || c.MQTT.BackoffCeiling < c.MQTT.BackoffFloor {
		return xerrors.Errorf("invalid mqtt backoff %s..%s", c.MQTT.BackoffFloor, c.MQTT.BackoffCeiling)
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, xerrors.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type envLookup func(string) (string, bool)

func (e envLookup) getString(key, defaultVal string) string {
	if value, exists := e(ENV_PREFIX + key); exists {
		return value
	}
	return defaultVal
}

func (e envLookup) getInt(key string, defaultVal int) int {
	if value, err := strconv.Atoi(e.getString(key, "")); err == nil {
		return value
	}
	return defaultVal
}

func (e envLookup) getBool(key string, defaultVal bool) bool {
	if value, err := strconv.ParseBool(e.getString(key, "")); err == nil {
		return value
	}
	return defaultVal
}

func (e envLookup) getDuration(key string, defaultVal time.Duration) time.Duration {
	if value, err := time.ParseDuration(e.getString(key, "")); err == nil {
		return value
	}
	return defaultVal
}
