package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Watch/internal/config"
	"github.com/dkeye/Watch/internal/domain"
	"github.com/dkeye/Watch/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller accepts player websocket connections and relays envelopes
// between room members. It holds no playback state: sync semantics live
// entirely in the clients.
type Controller struct {
	Registry *Registry
	cfg      *config.Relay
}

func NewController(cfg *config.Relay, reg *Registry) *Controller {
	return &Controller{Registry: reg, cfg: cfg}
}

// HandlePlayer upgrades the connection and runs the session until the
// socket or ctx dies.
func (ctl *Controller) HandlePlayer(ctx context.Context, c *gin.Context) {
	sid := SessionID(c.GetString("client_token"))
	room := domain.RoomName(c.Param("room"))
	user, err := domain.NewUser(c.GetString("username"))
	if err != nil {
		user, _ = domain.NewUser("guest")
	}
	name := user.ID

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	conn := newConn(ws)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(sid, room, name, conn, cancel)
	log.Info().Str("module", "relay").Str("sid", string(sid)).Str("room", string(room)).Str("name", string(name)).Msg("new player connection")

	ctl.broadcast(room, protocol.Envelope{
		Type:    protocol.TypeSystem,
		Message: fmt.Sprintf("%s joined the room", name),
	})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid SessionID, c *Conn) {
	defer func() {
		ctl.disconnect(sid, c)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Error().Err(err).Str("module", "relay").Str("sid", string(sid)).Msg("bad json")
				continue
			}
			ctl.handleEnvelope(sid, env)
		}
	}
}

func (ctl *Controller) disconnect(sid SessionID, c *Conn) {
	room, name, ok := ctl.Registry.Get(sid)
	ctl.Registry.Cancel(sid)
	ctl.Registry.Unbind(sid)
	c.Close()
	if ok {
		ctl.broadcast(room, protocol.Envelope{
			Type:    protocol.TypeSystem,
			Message: fmt.Sprintf("%s left the room", name),
		})
	}
	log.Info().Str("module", "relay").Str("sid", string(sid)).Msg("player disconnected")
}
