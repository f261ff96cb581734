// Package component connects the MUC service to an XMPP server as an
// external component and moves stanzas between the stream and the
// presence module.
package component

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"mellium.im/xmlstream"
	"mellium.im/xmpp"
	"mellium.im/xmpp/component"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/mucd/internal/xmpp/element"
	"github.com/meszmate/mucd/internal/xmpp/muc"
)

// PresenceHandler processes presence addressed to the service
type PresenceHandler interface {
	Process(ctx context.Context, p *element.Element) error
}

// MessageHandler processes messages addressed to the service
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *element.Element) error
}

// Config contains the connection settings
type Config struct {
	JID     string
	Secret  string
	Address string
	// QueueSize bounds the outbound queue. Zero uses 256.
	QueueSize int
}

// Stats counts stanzas passing through the component
type Stats struct {
	Received uint64
	Sent     uint64
	Refused  uint64
	Dropped  uint64
}

// Component wraps the Mellium component session
type Component struct {
	session   *xmpp.Session
	addr      jid.JID
	secret    string
	address   string
	connected bool
	mu        sync.RWMutex

	presence PresenceHandler
	messages MessageHandler
	log      hclog.Logger

	// out keeps stanzas in write order. The last reserve slots only
	// take high priority stanzas.
	out     chan *element.Element
	reserve int

	received atomic.Uint64
	sent     atomic.Uint64
	refused  atomic.Uint64
	dropped  atomic.Uint64

	onConnect    func()
	onDisconnect func(err error)
}

// New creates a component that is not yet connected
func New(cfg Config, logger hclog.Logger) (*Component, error) {
	addr, err := jid.Parse(cfg.JID)
	if err != nil {
		return nil, fmt.Errorf("invalid component JID: %w", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}

	return &Component{
		addr:    addr,
		secret:  cfg.Secret,
		address: cfg.Address,
		log:     logger,
		out:     make(chan *element.Element, size),
		reserve: size / 8,
	}, nil
}

// Addr returns the component domain
func (c *Component) Addr() jid.JID {
	return c.addr
}

// SetPresenceHandler sets the handler for inbound presence
func (c *Component) SetPresenceHandler(h PresenceHandler) {
	c.presence = h
}

// SetMessageHandler sets the handler for inbound messages
func (c *Component) SetMessageHandler(h MessageHandler) {
	c.messages = h
}

// OnConnect sets the connect handler
func (c *Component) OnConnect(handler func()) {
	c.onConnect = handler
}

// OnDisconnect sets the disconnect handler
func (c *Component) OnDisconnect(handler func(err error)) {
	c.onDisconnect = handler
}

// IsConnected returns whether the component is connected
func (c *Component) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Stats returns the stanza counters
func (c *Component) Stats() Stats {
	return Stats{
		Received: c.received.Load(),
		Sent:     c.sent.Load(),
		Refused:  c.refused.Load(),
		Dropped:  c.dropped.Load(),
	}
}

// Connect dials the server and performs the component handshake
func (c *Component) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	dialer := net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("failed to dial server: %w", err)
	}

	session, err := component.NewSession(ctx, c.addr, []byte(c.secret), conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to negotiate session: %w", err)
	}

	c.session = session
	c.connected = true
	c.log.Info("connected", "jid", c.addr, "server", c.address)

	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

// Serve handles inbound stanzas until the stream ends, ctx is done or a
// handler fails with an error that is not a stanza error.
func (c *Component) Serve(ctx context.Context) error {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return errors.New("not connected")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.sendLoop(ctx, session)
	}()
	go func() {
		<-ctx.Done()
		session.Close()
	}()

	err := session.Serve(xmpp.HandlerFunc(func(t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
		el, err := decode(t, start)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", start.Name.Local, err)
		}
		return c.dispatch(ctx, el)
	}))

	cancel()
	wg.Wait()
	c.handleDisconnect(err)
	return err
}

// Disconnect closes the stream
func (c *Component) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	err := c.session.Close()
	c.connected = false
	c.session = nil
	return err
}

func (c *Component) handleDisconnect(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if err != nil {
		c.log.Error("disconnected", "error", err)
	} else {
		c.log.Info("disconnected")
	}
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

func decode(t xml.TokenReader, start *xml.StartElement) (*element.Element, error) {
	d := xml.NewTokenDecoder(xmlstream.MultiReader(xmlstream.Token(*start), t))
	el := &element.Element{}
	if err := d.Decode(el); err != nil {
		return nil, err
	}
	return el, nil
}

// dispatch routes one inbound stanza. Stanza errors are answered and
// swallowed; anything else stops the component.
func (c *Component) dispatch(ctx context.Context, el *element.Element) error {
	c.received.Add(1)

	switch el.Name() {
	case "presence":
		if c.presence == nil {
			return nil
		}
		return c.refuse(el, c.presence.Process(ctx, el))
	case "message":
		if c.messages == nil || el.AttributeValue("type") == string(stanza.ErrorMessage) {
			return nil
		}
		return c.refuse(el, c.messages.HandleMessage(ctx, el))
	case "iq":
		switch stanza.IQType(el.AttributeValue("type")) {
		case stanza.GetIQ, stanza.SetIQ:
			c.WriteElement(muc.ErrFeatureNotImplemented.Reply(el))
		}
		return nil
	default:
		c.log.Trace("ignoring stanza", "name", el.Name(), "from", el.AttributeValue("from"))
		return nil
	}
}

// refuse answers a stanza error and reports any other error.
func (c *Component) refuse(el *element.Element, err error) error {
	var merr *muc.Error
	if errors.As(err, &merr) {
		c.refused.Add(1)
		c.log.Debug("stanza refused", "name", el.Name(), "from", el.AttributeValue("from"), "to", el.AttributeValue("to"), "error", merr)
		c.WriteElement(merr.Reply(el))
		return nil
	}
	return err
}

// Write queues a packet for delivery. Packets leave in the order they were
// written; high priority ones may also use the reserved end of the queue.
func (c *Component) Write(p *element.Packet) {
	c.enqueue(p.Element, p.Priority)
}

// WriteElement queues an element with normal priority
func (c *Component) WriteElement(el *element.Element) {
	c.enqueue(el, element.PriorityNormal)
}

// SendDelayedPacket queues an element coming from the delayed delivery
// queue. It fails if the element has no usable recipient.
func (c *Component) SendDelayedPacket(el *element.Element) error {
	if _, err := jid.Parse(el.AttributeValue("to")); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", el.AttributeValue("to"), err)
	}
	c.enqueue(el, element.PriorityNormal)
	return nil
}

func (c *Component) enqueue(el *element.Element, prio element.Priority) {
	if prio != element.PriorityHigh && len(c.out) >= cap(c.out)-c.reserve {
		c.drop(el, prio)
		return
	}
	select {
	case c.out <- el:
	default:
		c.drop(el, prio)
	}
}

func (c *Component) drop(el *element.Element, prio element.Priority) {
	c.dropped.Add(1)
	c.log.Warn("outbound queue full, dropping stanza", "name", el.Name(), "to", el.AttributeValue("to"), "priority", prio.String())
}

// next returns the oldest queued element.
func (c *Component) next(ctx context.Context) (*element.Element, bool) {
	select {
	case el := <-c.out:
		return el, true
	case <-ctx.Done():
		return nil, false
	}
}

func (c *Component) sendLoop(ctx context.Context, session *xmpp.Session) {
	for {
		el, ok := c.next(ctx)
		if !ok {
			return
		}
		if err := session.Send(ctx, el.TokenReader()); err != nil {
			c.log.Warn("failed to send stanza", "name", el.Name(), "to", el.AttributeValue("to"), "error", err)
			continue
		}
		c.sent.Add(1)
	}
}
