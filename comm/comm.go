/*Package comm provides an embeddable type for line-oriented communication with
a remote microcontroller over a serial port or TCP.

Most usages of this package will boil down to:
	1.  embed RemoteDevice in a type that represents your hardware.
	2.  call Open, then SendRecv with the command bytes.  Terminators are
		appended and stripped for you.
	3.  write methods that format commands and parse replies on top of SendRecv.

A minimal example for a board that answers "T?" with a temperature:

	type MySensor struct {
		*comm.RemoteDevice
	}

	func (ms *MySensor) ReadTemp() (float64, error) {
		resp, err := ms.SendRecv([]byte("T?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const (
	// DefaultTimeout is used for connect, read, and write when Timeout is zero
	DefaultTimeout = 3 * time.Second

	// DefaultBaud is used for serial connections when Baud is zero
	DefaultBaud = 115200
)

var (
	terminator = byte('\n')

	// ErrNotConnected is generated when .Conn is nil and SendRecv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Communicator can Open, SendRecv, and Close
type Communicator interface {
	io.Closer
	Open() error
	SendRecv([]byte) ([]byte, error)
}

/*RemoteDevice has an address and implements Communicator

if IsSerial is true, Addr is the name of the serial port (COM3, /dev/ttyUSB0)
and Baud is used, otherwise Addr is a host:port.

the device is concurrent-safe; each SendRecv is a single exchange that cannot be
interleaved with another
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Baud     int
	Timeout  time.Duration

	// Conn may be set directly to use an already open connection
	Conn io.ReadWriteCloser

	mu     sync.Mutex
	reader *bufio.Reader
	src    io.Reader
}

// NewRemoteDevice creates a new RemoteDevice instance
func NewRemoteDevice(addr string, serial bool) *RemoteDevice {
	return &RemoteDevice{Addr: addr, IsSerial: serial}
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout == 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

// SerialConf yields a pointer to a serial config object for use with serial.OpenPort
func (rd *RemoteDevice) SerialConf() *serial.Config {
	baud := rd.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	return &serial.Config{
		Name:        rd.Addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: rd.timeout(),
	}
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn != nil {
		return nil
	}
	// microcontrollers reset when the port is opened and
	// refuse connections until they have booted, so back off
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				wasTimeout = false
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s: %w", rd.Addr, err)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var err error
	var conn io.ReadWriteCloser
	if rd.IsSerial {
		conn, err = serial.OpenPort(rd.SerialConf())
	} else {
		conn, err = TCPSetup(rd.Addr, rd.timeout())
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
		rd.reader = nil
	}
	return err
}

// TxTerminator returns the transmission termination byte
func (rd *RemoteDevice) TxTerminator() byte {
	return terminator
}

// RxTerminator returns the receipt termination byte
func (rd *RemoteDevice) RxTerminator() byte {
	return terminator
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	if c, ok := rd.Conn.(net.Conn); ok {
		c.SetWriteDeadline(time.Now().Add(rd.timeout()))
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, rd.TxTerminator())
	_, err := rd.Conn.Write(buf)
	return err
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if c, ok := rd.Conn.(net.Conn); ok {
		c.SetReadDeadline(time.Now().Add(rd.timeout()))
	}
	// the reader is kept so bytes buffered past a terminator are not lost
	if rd.reader == nil || rd.src != rd.Conn {
		rd.reader = bufio.NewReader(rd.Conn)
		rd.src = rd.Conn
	}
	term := rd.RxTerminator()
	buf, err := rd.reader.ReadBytes(term)
	if err != nil {
		if len(buf) > 0 && err == io.EOF {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	buf = bytes.TrimSuffix(buf, []byte{term})
	return bytes.TrimSuffix(buf, []byte{'\r'}), nil
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}
