package artnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"dmxeffects/internal/config"
	"dmxeffects/internal/dmx"
	"dmxeffects/internal/logger"
	"github.com/Haba1234/go-artnet"
)

// ArtNet mirrors every reconstructed DMX frame to Art-Net nodes (DMX over UDP/IP).
type ArtNet struct {
	logger      logger.Logger
	sender      *artnet.Controller
	address     artnet.Address
	sendTrigger chan Universe
	ctx         context.Context

	mu    sync.Mutex
	frame Universe
	sent  uint64
	drops uint64
}

// Controller is a convenience interface to use within this application.
type Controller interface {
	SetDMXChannelValue(value ChannelValue)
	HandleEvent(ev dmx.Event)
	Start(ctx context.Context) error
	Stop()
}

// NewController returns an art-net mirror bound to the interface inside cfg.Network.
func NewController(log logger.Logger, cfg config.ArtNetConf) (*ArtNet, error) {
	network := cfg.Network
	if network == "" {
		network = DefaultAddressRange
	}
	ip, err := FindArtNetIP(network)
	if err != nil {
		return nil, fmt.Errorf("failed to find the art-net IP: %w", err)
	}

	if len(ip) == 0 {
		return nil, errors.New("failed to find the art-net IP: No interface found")
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname: %w", err)
	}

	host = strings.ToLower(strings.Split(host, ".")[0])
	log.With(logger.Fields{"module": "art-net"}).Infof("Using ArtNet IP %s and hostname %s", ip.String(), host)

	senderLogger := artnet.NewDefaultLogger("info")

	control := newMirror(log, cfg.Universe)
	control.sender = artnet.NewController(host, ip, senderLogger, artnet.MaxFPS(44))
	return control, nil
}

func newMirror(log logger.Logger, universe uint16) *ArtNet {
	return &ArtNet{
		logger:      log,
		address:     universeToAddress(universe),
		sendTrigger: make(chan Universe, 4),
	}
}

// Start the ArtNet.
func (c *ArtNet) Start(ctx context.Context) error {
	if err := c.sender.Start(); err != nil {
		return fmt.Errorf("failed to start Controller: %w", err)
	}

	c.ctx = ctx
	go c.sendBackground()
	go c.debugDevices()
	return nil
}

// Stop the ArtNet.
func (c *ArtNet) Stop() {
	c.sender.Stop()
	c.mu.Lock()
	sent, drops := c.sent, c.drops
	c.mu.Unlock()
	c.logger.With(logger.Fields{"module": "art-net"}).Infof("stopped: %d frames sent, %d dropped", sent, drops)
}

// HandleEvent собирает кадр из событий ValueChanged. Канал 512 закрывает кадр.
func (c *ArtNet) HandleEvent(ev dmx.Event) {
	e, ok := ev.(dmx.ValueChanged)
	if !ok {
		return
	}
	c.SetDMXChannelValue(ChannelValue{Channel: uint16(e.Channel), Value: uint8(e.Value)})
}

func (c *ArtNet) SetDMXChannelValue(value ChannelValue) {
	if value.Channel < dmx.MinChannel || value.Channel > dmx.MaxChannel {
		return
	}
	c.mu.Lock()
	c.frame[value.Channel-1] = value.Value
	frame := c.frame
	c.mu.Unlock()

	if value.Channel == dmx.MaxChannel {
		c.triggerSend(frame)
	}
}

// triggerSend never blocks the listener: a frame is dropped if the sender lags.
func (c *ArtNet) triggerSend(frame Universe) {
	select {
	case c.sendTrigger <- frame:
	default:
		c.mu.Lock()
		c.drops++
		c.mu.Unlock()
		c.logger.With(logger.Fields{"module": "art-net"}).Debug("DMX. Отправитель занят, кадр пропущен")
	}
}

func (c *ArtNet) sendBackground() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.sendTrigger:
			c.sender.SendDMXToAddress(data.toByteSlice(), c.address)
			c.mu.Lock()
			c.sent++
			c.mu.Unlock()
		}
	}
}

// universeToAddress converts a dmx universe to art-net address
// universe: старший байт - SubUni, младший байт - Net.
func universeToAddress(universe uint16) artnet.Address {
	v := make([]uint8, 2)
	binary.BigEndian.PutUint16(v, universe)

	return artnet.Address{
		Net:    v[0],
		SubUni: v[1],
	}
}

// NodeToString returns a string representation of the given Node.
func NodeToString(n *artnet.ControlledNode) NodeInfo {
	var inputs, outputs []string
	for _, p := range n.Node.InputPorts {
		inputs = append(inputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}

	var outStr []string
	for _, p := range n.Node.OutputPorts {
		outputs = append(outputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
		outStr = append(outStr, p.Address.String())
	}

	return NodeInfo{
		Name: n.Node.Name,
		Summary: fmt.Sprintf(
			" | IP=%s name=%q type=%q manufacturer=%q desc=%q inputs=%q outputs=%q",
			n.UDPAddress.String(), n.Node.Name, n.Node.Type,
			n.Node.Manufacturer, n.Node.Description,
			strings.Join(inputs, "; "), strings.Join(outputs, "; "),
		),
		Outputs: outStr,
	}
}

func (c *ArtNet) debugDevices() {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
		}
		nodes := c.sender.Nodes
		summaries := make([]string, 0, len(nodes))
		for _, n := range nodes {
			summaries = append(summaries, NodeToString(n).Summary)
		}
		c.logger.With(logger.Fields{"module": "art-net"}).Debugf("Currently %d devices are registered: %v", len(nodes), summaries)
	}
}
