package drivers

import (
	"bufio"
	"context"
	"io"
	"strings"

	"cdr.dev/slog/v3"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"golang.org/x/xerrors"

	"livechart/config"
	"livechart/metrics"
)

const (
	SERIAL_DRIVER = "serial"
	AUTO_PORT     = "auto"
	// MAX_LINE_BYTES bounds a single "<topic> <payload>" line, newline included.
	MAX_LINE_BYTES = 4096
)

// Arduino & clones common VIDs
var preferredVIDs = map[string]bool{
	"2341": true, // Arduino
	"2A03": true, // Arduino (older)
	"1A86": true, // CH340
	"10C4": true, // CP210x
	"0403": true, // FTDI
}

// Serial reads readings from a gateway board that forwards broker traffic over USB serial, one
// "<topic> <payload>" line per message.
type Serial struct {
	*config.SerialFlags
	ingester

	open      func(name string, baud int) (io.ReadCloser, error)
	listPorts func() ([]*enumerator.PortDetails, error)
	port      io.ReadCloser
	portName  string
	state     *stateTracker
}

func NewSerial(
	flags *config.SerialFlags,
	filter TopicFilter,
	recorder Recorder,
	m *metrics.Metrics,
	logger slog.Logger,
) *Serial {
	d := &Serial{
		SerialFlags: flags,
		ingester: ingester{
			driver:   SERIAL_DRIVER,
			filter:   filter,
			recorder: recorder,
			metrics:  m,
			logger:   logger.Named("serial"),
		},
		open: func(name string, baud int) (io.ReadCloser, error) {
			port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
			if err != nil {
				return nil, err
			}
			return port, nil
		},
		listPorts: enumerator.GetDetailedPortsList,
	}
	d.state = newStateTracker(d.observeState)
	return d
}

func (d *Serial) Init(ctx context.Context) error {
	name := d.SerialPort
	if name == "" || name == AUTO_PORT {
		selected, err := d.autoSelectPort()
		if err != nil {
			return xerrors.Errorf("auto-select: %w", err)
		}
		name = selected
	}

	d.state.set(Connecting)
	port, err := d.open(name, d.BaudRate)
	if err != nil {
		d.state.set(Disconnected)
		return xerrors.Errorf("open serial %s: %w", name, err)
	}
	d.port = port
	d.portName = name
	d.state.set(Connected)
	d.logger.Info(ctx, "connected to serial port",
		slog.F("port", name),
		slog.F("baud", d.BaudRate),
	)
	return nil
}

// Run reads lines until the port closes or ctx is done. Cancelling ctx closes the port.
func (d *Serial) Run(ctx context.Context) error {
	if d.port == nil {
		return xerrors.New("serial driver used before Init")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = d.port.Close()
	}()

	err := d.processLines(ctx, d.port)
	if ctx.Err() != nil {
		d.state.set(Disconnected)
		d.logger.Info(ctx, "closed serial port", slog.F("port", d.portName))
		return nil
	}
	d.state.set(Lost)
	if err != nil {
		return xerrors.Errorf("read serial %s: %w", d.portName, err)
	}
	return xerrors.Errorf("serial %s closed", d.portName)
}

// State reports the current connection state.
func (d *Serial) State() ConnectionState {
	return d.state.get()
}

// processLines ingests lines until r is exhausted. Lines longer than MAX_LINE_BYTES are skipped and
// counted as malformed, the reader picks up again at the next newline.
func (d *Serial) processLines(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReaderSize(r, MAX_LINE_BYTES)
	for {
		line, err := reader.ReadSlice('\n')
		if xerrors.Is(err, bufio.ErrBufferFull) {
			d.count(metrics.Malformed)
			d.logger.Debug(ctx, "dropping oversized gateway line", slog.F("limit", MAX_LINE_BYTES))
			err = skipLine(reader)
			if err == nil {
				continue
			}
		} else if len(line) > 0 {
			d.processLine(ctx, string(line))
		}
		if xerrors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (d *Serial) processLine(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		d.count(metrics.Malformed)
		d.logger.Debug(ctx, "dropping bad gateway line", slog.F("line", line))
		return
	}
	d.ingest(ctx, fields[0], []byte(fields[1]))
}

// skipLine discards up to and including the next newline.
func skipLine(reader *bufio.Reader) error {
	for {
		_, err := reader.ReadSlice('\n')
		if !xerrors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func (d *Serial) autoSelectPort() (string, error) {
	ports, err := d.listPorts()
	if err != nil {
		return "", xerrors.Errorf("enumerate ports: %w", err)
	}
	for _, p := range ports {
		if p.IsUSB && preferredVIDs[strings.ToUpper(p.VID)] {
			return p.Name, nil
		}
	}
	return "", xerrors.New("no gateway serial ports found")
}
