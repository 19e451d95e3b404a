package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/quizdeck/proctor-gateway/internal/middleware"
	"github.com/quizdeck/proctor-gateway/internal/model"
	"github.com/quizdeck/proctor-gateway/internal/response"
	"github.com/quizdeck/proctor-gateway/internal/service"
	"github.com/quizdeck/proctor-gateway/internal/session"
	ws "github.com/quizdeck/proctor-gateway/internal/websocket"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams session state over a WebSocket and accepts the same
// actions as the REST surface, plus raw environment events (fullscreen
// transitions, blur, keydown) that only make sense on a live stream.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/stream?token=...
// Upgrades to WebSocket for real-time session state and environment events.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": response.GetMessage(response.ErrTokenRequired)})
		return
	}

	live, err := h.sessionService.Get(claims.SessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": response.GetMessage(response.ErrSessionNotFound)})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Str("session_id", live.ID).
		Str("username", live.Username).
		Logger()

	wsLog.Info().Msg("Session stream connected")

	// Pump engine state pushes to this connection until either side closes.
	updates := live.Subscribe()
	defer live.Unsubscribe(updates)

	quit := make(chan struct{})
	defer close(quit)

	go func() {
		for {
			select {
			case view, ok := <-updates:
				if !ok {
					return
				}
				if err := conn.WriteTyped(statePayload(view)); err != nil {
					return
				}
			case <-quit:
				return
			}
		}
	}()

	// Initial state so the page renders without a separate REST fetch.
	if err := conn.WriteTyped(statePayload(h.sessionService.View(live))); err != nil {
		return
	}

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		h.dispatch(conn, wsLog, live, &msg)
	}
}

// dispatch routes one inbound message. Engine errors go back as error
// events; state changes arrive through the subscription, not here.
func (h *WSHandler) dispatch(conn *ws.Conn, wsLog zerolog.Logger, live *service.LiveSession, msg *ws.RequestPayload) {
	ctx := context.Background()

	switch msg.Action {
	case ws.ActionPing:
		conn.WriteTyped(ws.PongPayload{Event: ws.EventPong})

	case ws.ActionSelect:
		if msg.Option == "" {
			conn.WriteError("option is required")
			return
		}
		if err := live.Engine.SelectOption(msg.QuestionIndex, msg.Option); err != nil {
			conn.WriteError(err.Error())
		}

	case ws.ActionSubmitAnswer:
		if err := live.Engine.SubmitAnswer(ctx, msg.QuestionIndex); err != nil {
			conn.WriteError(err.Error())
		}

	case ws.ActionSubmitAttempt:
		live.Engine.SubmitAttempt(ctx, session.ReasonUserSubmit)
		conn.WriteTyped(ws.StatePayload{
			Event: ws.EventSubmitted,
			State: h.sessionService.View(live),
		})

	case ws.ActionViolation:
		kind := model.ViolationKind(msg.Kind)
		switch kind {
		case model.ViolationFullscreenExit, model.ViolationFocusLost, model.ViolationForbiddenKey:
			live.Monitor.Report(ctx, kind, msg.Detail)
		default:
			conn.WriteError("unknown violation kind: " + msg.Kind)
		}

	case ws.ActionFullscreen:
		live.Monitor.FullscreenChanged(ctx, msg.Active)
		// Prompt countdown state lives outside the engine, so push a view
		// even when no violation was counted.
		conn.WriteTyped(statePayload(h.sessionService.View(live)))

	case ws.ActionBlur:
		live.Monitor.FocusLost(ctx)

	case ws.ActionKeydown:
		if msg.Combo == "" {
			conn.WriteError("combo is required")
			return
		}
		live.Monitor.KeyPressed(ctx, msg.Combo)

	default:
		wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		conn.WriteError("unknown action: " + string(msg.Action))
	}
}

func statePayload(view service.SessionView) ws.StatePayload {
	return ws.StatePayload{
		Event:            ws.EventState,
		State:            view,
		PromptActive:     view.PromptActive,
		PromptRemaining:  view.PromptRemaining,
		DisturbanceLimit: view.DisturbanceLimit,
	}
}
