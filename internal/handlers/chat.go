package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"care-sync/internal/chat"
	"care-sync/internal/models"
	"care-sync/internal/repositories"
)

// ReadMarker applies a read transition and notifies the other participant.
type ReadMarker interface {
	MarkRoomRead(ctx context.Context, readerID, counterpartID string) (models.ReadReceipt, error)
}

// UnreadPollInterval is how often clients are told to poll unread counts.
const UnreadPollInterval = 10 * time.Second

// ChatHandler serves the REST fallback for clients without a live channel.
type ChatHandler struct {
	roomRepo    repositories.RoomRepository
	messageRepo repositories.MessageRepository
	reader      ReadMarker
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(roomRepo repositories.RoomRepository, messageRepo repositories.MessageRepository, reader ReadMarker) *ChatHandler {
	return &ChatHandler{
		roomRepo:    roomRepo,
		messageRepo: messageRepo,
		reader:      reader,
	}
}

// ListRooms returns the caller's conversations with their unread counts.
func (h *ChatHandler) ListRooms(c *gin.Context) {
	userID := c.GetString("userID")

	rooms, err := h.roomRepo.ListRooms(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	counts, err := h.messageRepo.UnreadCounts(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread counts"})
		return
	}
	unread := map[string]int{}
	for _, s := range counts {
		unread[s.RoomID] = s.Unread
	}

	type roomResponse struct {
		RoomID        string    `json:"roomId"`
		CounterpartID string    `json:"counterpartId"`
		Unread        int       `json:"unread"`
		LastMessageAt time.Time `json:"lastMessageAt"`
		CreatedAt     time.Time `json:"createdAt"`
	}

	resp := make([]roomResponse, 0, len(rooms))
	for _, r := range rooms {
		counterpart := r.ParticipantA
		if counterpart == userID {
			counterpart = r.ParticipantB
		}
		resp = append(resp, roomResponse{
			RoomID:        r.ID,
			CounterpartID: counterpart,
			Unread:        unread[r.ID],
			LastMessageAt: r.LastMessageAt,
			CreatedAt:     r.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"rooms": resp})
}

// GetRoomMessages returns the history of the room shared with counterpart_id
// in commit order. before is an exclusive sequence cursor.
func (h *ChatHandler) GetRoomMessages(c *gin.Context) {
	roomID, ok := h.roomFor(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	var before int64
	if raw := c.Query("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		before = n
	}

	msgs, err := h.messageRepo.ListRoomMessages(c.Request.Context(), roomID, limit, before)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "messages": msgs})
}

// MarkRoomRead marks everything the counterpart sent to the caller as read.
func (h *ChatHandler) MarkRoomRead(c *gin.Context) {
	if _, ok := h.roomFor(c); !ok {
		return
	}

	receipt, err := h.reader.MarkRoomRead(c.Request.Context(), c.GetString("userID"), c.Param("counterpart_id"))
	if err != nil {
		log.Printf("rest mark read failed: user_id=%s counterpart_id=%s err=%v", c.GetString("userID"), c.Param("counterpart_id"), err)
		abortWithError(c, err)
		return
	}
	if receipt.MessageIDs == nil {
		receipt.MessageIDs = []string{}
	}

	c.JSON(http.StatusOK, receipt)
}

// UnreadCount returns the caller's total and per-room unread counts.
func (h *ChatHandler) UnreadCount(c *gin.Context) {
	counts, err := h.messageRepo.UnreadCounts(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread counts"})
		return
	}

	total := 0
	rooms := make(map[string]int, len(counts))
	for _, s := range counts {
		total += s.Unread
		rooms[s.RoomID] = s.Unread
	}

	c.JSON(http.StatusOK, gin.H{"count": total, "rooms": rooms})
}

func (h *ChatHandler) roomFor(c *gin.Context) (string, bool) {
	userID := c.GetString("userID")
	counterpartID := c.Param("counterpart_id")
	if err := chat.ValidateUserID(counterpartID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid counterpart id"})
		return "", false
	}
	if err := chat.ValidateUserID(userID); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
		return "", false
	}
	if userID == counterpartID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return "", false
	}
	return chat.RoomID(userID, counterpartID), true
}
