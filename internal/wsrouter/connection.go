package wsrouter

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hyperstudy/bridge/internal/codec"
	"github.com/hyperstudy/bridge/internal/events"
)

// connection owns one client's WebSocket lifecycle: a recv task parsing
// frames into commands, a send task draining a bounded response queue,
// and a hub-forwarding task filtering broadcast events through this
// client's subscriptions. The recv task returning, or a failed write in
// the send task, tears the connection down via done/once; the send and
// hub-forwarding tasks then exit when done closes.
type connection struct {
	id     string
	ws     *websocket.Conn
	router *Router

	send chan codec.Response
	done chan struct{}
	once sync.Once

	subMu         sync.Mutex
	subscriptions map[string]map[string]bool
}

func newConnection(id string, ws *websocket.Conn, r *Router) *connection {
	return &connection{
		id:            id,
		ws:            ws,
		router:        r,
		send:          make(chan codec.Response, sendQueueCapacity),
		done:          make(chan struct{}),
		subscriptions: make(map[string]map[string]bool),
	}
}

// run blocks until the connection closes, in either direction.
func (c *connection) run() {
	defer c.teardown()

	hubID, hubCh := c.router.hub.Register()
	defer c.router.hub.Unregister(hubID)

	go c.sendLoop()
	go c.forwardHubEvents(hubCh)
	c.recvLoop()
}

func (c *connection) teardown() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *connection) recvLoop() {
	for {
		mt, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.router.state.UpdateConnectionActivity(c.id)
		c.router.state.Accountant().RecordBridgeMessage()

		if mt == websocket.BinaryMessage {
			c.reply(codec.NewError("binary frames are not accepted"))
			continue
		}

		msg, err := codec.Decode(raw)
		if err != nil {
			c.reply(codec.NewError(err.Error()))
			continue
		}
		c.router.dispatch(c, msg)
	}
}

func (c *connection) sendLoop() {
	for {
		select {
		case <-c.done:
			return
		case resp, ok := <-c.send:
			if !ok {
				return
			}
			raw, err := codec.Encode(resp)
			if err != nil {
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.teardown()
				return
			}
		}
	}
}

func (c *connection) forwardHubEvents(ch <-chan events.Event) {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.deliverHubEvent(ev)
		}
	}
}

func (c *connection) deliverHubEvent(ev events.Event) {
	switch data := ev.Data.(type) {
	case events.DeviceStatusEvent:
		if c.isSubscribed(data.DeviceID, "status_changed") {
			c.reply(codec.NewEvent(data.DeviceID, "status_changed", map[string]any{
				"status": data.Status,
				"detail": data.Detail,
			}))
		}
	case events.DeviceDataEvent:
		if c.isSubscribed(data.DeviceID, data.EventKind) {
			c.reply(codec.NewEvent(data.DeviceID, data.EventKind, data.Data))
		}
	}
}

// reply enqueues a response, dropping it if the connection's queue is
// already full rather than blocking the caller.
func (c *connection) reply(r codec.Response) {
	select {
	case c.send <- r:
	default:
	}
}

func (c *connection) subscribe(req *codec.SubscriptionRequest) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	set, ok := c.subscriptions[req.Device]
	if !ok {
		set = make(map[string]bool)
		c.subscriptions[req.Device] = set
	}
	for _, e := range req.Events {
		set[e] = true
	}
}

func (c *connection) unsubscribe(req *codec.SubscriptionRequest) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	set, ok := c.subscriptions[req.Device]
	if !ok {
		return
	}
	for _, e := range req.Events {
		delete(set, e)
	}
}

func (c *connection) isSubscribed(deviceID, kind string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	set, ok := c.subscriptions[deviceID]
	if !ok {
		return false
	}
	return set[kind] || set["*"]
}
