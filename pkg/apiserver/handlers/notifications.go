package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/apiserver/middleware"
	"github.com/dossierflow/dossierflow/pkg/eventbus"
	"github.com/dossierflow/dossierflow/pkg/listing"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/notify"
)

const (
	defaultNotificationLimit = 50
	// streamHeartbeat keeps idle streams alive through proxies.
	streamHeartbeat = 25 * time.Second
)

type NotificationHandler struct {
	dossierAccess
	dispatcher *notify.Dispatcher
	bus        *eventbus.Bus
}

// NewNotificationHandler builds the handler; bus may be nil, in which case
// the realtime stream is unavailable.
func NewNotificationHandler(dispatcher *notify.Dispatcher, bus *eventbus.Bus, listings *listing.Service, scoper Scoper, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		dossierAccess: dossierAccess{listing: listings, scoper: scoper, logger: logger},
		dispatcher:    dispatcher,
		bus:           bus,
	}
}

type createNotificationRequest struct {
	UserID  uint    `json:"user_id" binding:"required"`
	Type    string  `json:"type"`
	Title   string  `json:"title" binding:"required"`
	Message string  `json:"message" binding:"required"`
	Link    *string `json:"link"`
}

// ownerOrManager answers 403 unless the caller is userID or may manage
// users.
func (h *NotificationHandler) ownerOrManager(c *gin.Context, userID uint) bool {
	user := middleware.CurrentUser(c)
	if user != nil && user.UserID == userID {
		return true
	}
	if err := access.Authorize(user, access.ManageUsers); err != nil {
		middleware.WriteError(c, h.logger, err)
		return false
	}
	return true
}

func (h *NotificationHandler) userParam(c *gin.Context) (uint, bool) {
	userID, ok := parseID(c, h.logger, "id")
	if !ok {
		return 0, false
	}
	return userID, h.ownerOrManager(c, userID)
}

// notification loads the notification and checks the caller may act on it.
func (h *NotificationHandler) notification(c *gin.Context) (*model.Notification, bool) {
	id, ok := parseID(c, h.logger, "id")
	if !ok {
		return nil, false
	}
	notification, err := h.dispatcher.Get(c.Request.Context(), id)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return nil, false
	}
	return notification, h.ownerOrManager(c, notification.UserID)
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := h.userParam(c)
	if !ok {
		return
	}
	notifications, err := h.dispatcher.List(c.Request.Context(), userID, parseLimit(c.Query("limit"), defaultNotificationLimit))
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (h *NotificationHandler) Unread(c *gin.Context) {
	userID, ok := h.userParam(c)
	if !ok {
		return
	}
	notifications, err := h.dispatcher.Unread(c.Request.Context(), userID, parseLimit(c.Query("limit"), defaultNotificationLimit))
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := h.userParam(c)
	if !ok {
		return
	}
	count, err := h.dispatcher.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	notification, ok := h.notification(c)
	if !ok {
		return
	}
	if err := h.dispatcher.MarkRead(c.Request.Context(), notification.ID); err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marquée comme lue"})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := h.userParam(c)
	if !ok {
		return
	}
	updated, err := h.dispatcher.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Toutes les notifications sont lues", "updated": updated})
}

func (h *NotificationHandler) Create(c *gin.Context) {
	var req createNotificationRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	notificationType := req.Type
	if notificationType == "" {
		notificationType = model.NotificationInfo
	}
	notification, err := h.dispatcher.Notify(c.Request.Context(), req.UserID, notify.Message{
		Type:  notificationType,
		Title: req.Title,
		Body:  req.Message,
		Link:  req.Link,
	})
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, notification)
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	notification, ok := h.notification(c)
	if !ok {
		return
	}
	if err := h.dispatcher.Delete(c.Request.Context(), notification.ID); err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification supprimée"})
}

func (h *NotificationHandler) DeleteRead(c *gin.Context) {
	userID, ok := h.userParam(c)
	if !ok {
		return
	}
	deleted, err := h.dispatcher.DeleteRead(c.Request.Context(), userID)
	if err != nil {
		middleware.WriteError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notifications lues supprimées", "deleted": deleted})
}

// Stream pushes the caller's new notifications as server-sent events.
// Stream pushes the caller's notifications and the state changes of every
// dossier it can see as server-sent events.
func (h *NotificationHandler) Stream(c *gin.Context) {
	if h.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Flux temps réel indisponible"})
		return
	}
	user := middleware.CurrentUser(c)
	scope := h.scope(c)

	// The stream outlives the server's write timeout.
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("cannot clear stream write deadline", zap.Error(err))
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()
	events := h.bus.Subscribe(ctx, eventbus.UserChannel(user.UserID), eventbus.ChannelDossier)
	c.SSEvent("ready", gin.H{"id_user": user.UserID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	relayEvents(c, events, heartbeat.C, func(event *eventbus.Event) bool {
		return h.dossierVisible(ctx, scope, event)
	})
}

// dossierVisible lets notification events through and keeps dossier events
// only when the dossier is inside scope.
func (h *NotificationHandler) dossierVisible(ctx context.Context, scope access.Scope, event *eventbus.Event) bool {
	if event.Type != eventbus.EventDossierCreated && event.Type != eventbus.EventDossierStateChanged {
		return true
	}
	var payload eventbus.DossierEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return false
	}
	_, err := h.listing.Get(ctx, scope, payload.DossierID)
	return err == nil
}

// relayEvents writes events until the channel closes or the client leaves,
// pinging on every heartbeat tick.
func relayEvents(c *gin.Context, events <-chan *eventbus.Event, heartbeat <-chan time.Time, allow func(*eventbus.Event) bool) {
	ctx := c.Request.Context()
	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			if !allow(event) {
				continue
			}
			c.SSEvent(event.Type, event)
			c.Writer.Flush()
		case tick := <-heartbeat:
			c.SSEvent("ping", gin.H{"timestamp": tick.Unix()})
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}
