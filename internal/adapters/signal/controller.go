// Package signal is the server-side signaling channel adapter: one
// WebSocket per client, decoded into protocol messages and fed to the
// room registry.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Ameba1399/MES/internal/app"
	"github.com/Ameba1399/MES/internal/config"
	"github.com/Ameba1399/MES/internal/domain"
	"github.com/Ameba1399/MES/internal/protocol"
)

// Signaling is chatty during ICE but still low-volume; anything past
// this is a misbehaving client.
const (
	signalRateLimit  = 50
	signalRateWindow = time.Second
)

type Controller struct {
	Registry *app.Registry
	Cfg      *config.Config
	limiter  *RateLimiter
}

func NewController(registry *app.Registry, cfg *config.Config) *Controller {
	return &Controller{
		Registry: registry,
		Cfg:      cfg,
		limiter:  NewRateLimiter(signalRateLimit, signalRateWindow),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// session is the per-channel state: which room the channel is bound to
// and, after a successful join, under which identity.
type session struct {
	room     domain.RoomID
	identity domain.Identity
	joined   bool
	conn     *wsConn
}

// HandleSignal upgrades the connection and runs the channel until it
// closes. Channel closure is the sole disconnect signal: the read pump
// exiting runs the implicit leave.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Query("room"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing room"})
		return
	}
	token := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("room", string(roomID)).Str("token", token).Msg("new WS connection")

	sess := &session{room: roomID, conn: newWSConn(ws)}
	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, sess.conn)
	go ctl.readPump(ctx, cancel, sess, token)
}

func (ctl *Controller) handleFrame(sess *session, token string, data []byte) {
	if !ctl.limiter.Allow(domain.Identity(token)) {
		log.Warn().Str("module", "signal").Str("token", token).Msg("rate limit exceeded")
		ctl.sendMsg(sess.conn, protocol.Error{Code: "rate_limited", Reason: "too many signaling messages"})
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad frame")
		ctl.sendMsg(sess.conn, protocol.Error{Code: "bad_payload", Reason: err.Error()})
		return
	}

	switch m := msg.(type) {
	case protocol.Join:
		ctl.handleJoin(sess, token, m)
	case protocol.Leave:
		if sess.joined {
			ctl.Registry.Leave(sess.room, sess.identity)
			sess.joined = false
		}
	case protocol.Offer:
		m.From = sess.identity
		ctl.relay(sess, m.To, m)
	case protocol.Answer:
		m.From = sess.identity
		ctl.relay(sess, m.To, m)
	case protocol.ICECandidate:
		m.From = sess.identity
		ctl.relay(sess, m.To, m)
	case protocol.Chat:
		m.From = sess.identity
		ctl.relay(sess, m.To, m)
	case protocol.Control:
		// media-state announcements are always room-wide
		m.From = sess.identity
		ctl.relay(sess, "", m)
	case protocol.RosterQuery:
		ctl.handleRosterQuery(sess)
	default:
		log.Warn().Str("module", "signal").Str("type", string(msg.Kind())).Msg("unexpected client message")
	}
}

func (ctl *Controller) handleJoin(sess *session, token string, m protocol.Join) {
	if sess.joined {
		log.Warn().Str("module", "signal").Str("identity", string(sess.identity)).Msg("join on a joined channel ignored")
		return
	}
	identity := m.Identity
	if identity == "" {
		identity = domain.Identity(token)
	}
	p := domain.NewParticipant(identity, m.DisplayName)

	others, err := ctl.Registry.Join(sess.room, p, sess.conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("room", string(sess.room)).Str("identity", string(identity)).Msg("join rejected")
		ctl.sendMsg(sess.conn, protocol.Error{Code: "duplicate_identity", Reason: err.Error()})
		return
	}
	sess.identity = identity
	sess.joined = true
	log.Info().Str("module", "signal").Str("room", string(sess.room)).Str("identity", string(identity)).Str("name", p.DisplayName).Msg("joined")

	ctl.sendMsg(sess.conn, protocol.RosterSnapshot{Self: identity, Participants: others})
}

// handleRosterQuery resends the roster snapshot so a client can
// resynchronize its roster view on demand.
func (ctl *Controller) handleRosterQuery(sess *session) {
	if !sess.joined {
		log.Warn().Str("module", "signal").Str("room", string(sess.room)).Msg("roster query before join dropped")
		return
	}
	members, err := ctl.Registry.Members(sess.room)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(sess.room)).Msg("roster query")
		return
	}
	others := make([]domain.Participant, 0, len(members))
	for _, p := range members {
		if p.Identity == sess.identity {
			continue
		}
		others = append(others, p)
	}
	ctl.sendMsg(sess.conn, protocol.RosterSnapshot{Self: sess.identity, Participants: others})
}

// relay re-encodes m (with the server-stamped From) and forwards it
// unchanged through the registry.
func (ctl *Controller) relay(sess *session, to domain.Identity, m protocol.Message) {
	if !sess.joined {
		log.Warn().Str("module", "signal").Str("room", string(sess.room)).Msg("relay before join dropped")
		return
	}
	f, err := protocol.Marshal(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode relay frame")
		return
	}
	ctl.Registry.Relay(sess.room, sess.identity, to, f)
}

func (ctl *Controller) sendMsg(c *wsConn, m protocol.Message) {
	f, err := protocol.Marshal(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode message")
		return
	}
	if err := c.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("send dropped")
	}
}
