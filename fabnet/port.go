// Package fabnet talks to stepper nodes sharing one serial bus.
//
// Requests are single lines addressed to a node, or to every node with "*":
//
//	@3 SPIN 1000 1000
//	@3 STAT
//	@* ACQ
//
// and each node answers with a framed reply:
//
//	<3|ok>
//	<3|Run|Rem:250|Pos:750>
//	<3|error:2>
//	<3|fw:stp-086>
package fabnet

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/jt05610/drawbot"
)

// Link types understood by OpenPort.
const (
	LinkFTDI   = "ftdi"
	LinkSerial = "serial"
)

const ftdiVendor = "0403"

// Port is an open serial link.
type Port struct {
	name string
	link string
	port serial.Port
}

// PortInfo describes a serial device present on the host.
type PortInfo struct {
	Name    string
	USB     bool
	FTDI    bool
	VID     string
	PID     string
	Serial  string
	Product string
}

func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ret := make([]PortInfo, len(ports))
	for i, p := range ports {
		ret[i] = PortInfo{
			Name:    p.Name,
			USB:     p.IsUSB,
			FTDI:    strings.EqualFold(p.VID, ftdiVendor),
			VID:     p.VID,
			PID:     p.PID,
			Serial:  p.SerialNumber,
			Product: p.Product,
		}
	}
	return ret, nil
}

// OpenPort opens name at baud, 8N1.
func OpenPort(name string, baud int, link string) (*Port, error) {
	if link == "" {
		link = LinkFTDI
	}
	if link != LinkFTDI && link != LinkSerial {
		return nil, drawbot.NewConfigurationError("link", errors.Errorf("unknown link type %q", link))
	}
	if baud <= 0 {
		return nil, drawbot.NewConfigurationError("baud", errors.Errorf("invalid baud rate %d", baud))
	}
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	if err := p.SetReadTimeout(500 * time.Millisecond); err != nil {
		p.Close()
		return nil, err
	}
	return &Port{name: name, link: link, port: p}, nil
}

func (p *Port) Name() string { return p.name }

func (p *Port) Link() string { return p.link }

// Read blocks until data arrives. Read timeouts of the underlying port are
// swallowed so line scanners never see empty reads.
func (p *Port) Read(b []byte) (int, error) {
	for {
		n, err := p.port.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *Port) Close() error {
	return p.port.Close()
}
