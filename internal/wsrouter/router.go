// Package wsrouter binds the WebSocket control surface the browser
// controller talks to: one accept loop, one connection struct per
// client, and a dispatch table mirroring spec §4.10's routing matrix.
package wsrouter

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hyperstudy/bridge/internal/bridgestate"
	"github.com/hyperstudy/bridge/internal/events"
	"github.com/hyperstudy/bridge/internal/ids"
	"github.com/hyperstudy/bridge/internal/logging"
	"github.com/hyperstudy/bridge/internal/storage"
)

// sendQueueCapacity bounds each connection's outbound response queue,
// per spec §4.10.
const sendQueueCapacity = 100

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Router accepts WebSocket connections bound to ws://127.0.0.1:<port> and
// dispatches parsed commands against shared bridge state.
type Router struct {
	state *bridgestate.State
	hub   *events.Hub
	store *storage.Store
	port  int
	log   *logrus.Entry
}

// New constructs a Router. port is advertised in Query(Status) replies
// only; the caller owns binding the actual listener. store may be nil,
// in which case Query(Stats) replies with an error instead of panicking.
func New(state *bridgestate.State, hub *events.Hub, store *storage.Store, port int) *Router {
	return &Router{state: state, hub: hub, store: store, port: port, log: logging.ForService("wsrouter")}
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection
// until it closes.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	id := ids.NewConnectionID()
	rt.state.AddConnection(id, r.RemoteAddr)
	rt.state.Accountant().RecordWSConnection(true)
	rt.log.WithField("connection", id).Info("client connected")

	c := newConnection(id, ws, rt)
	c.run()

	rt.state.RemoveConnection(id)
	rt.state.Accountant().RecordWSConnection(false)
	rt.log.WithField("connection", id).Info("client disconnected")
}
