package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RealtimeHandler tells clients where the push channel lives and how to
// degrade when it is unavailable.
type RealtimeHandler struct {
	publicURL string
	local     bool
	wsPath    string
}

// NewRealtimeHandler builds a RealtimeHandler. publicURL wins when set;
// otherwise the URL is derived from the request, using plain ws only for
// local environments.
func NewRealtimeHandler(publicURL string, local bool, wsPath string) *RealtimeHandler {
	return &RealtimeHandler{publicURL: publicURL, local: local, wsPath: wsPath}
}

func (h *RealtimeHandler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"url":                       h.resolveURL(c.Request),
		"transports":                []string{"websocket", "polling"},
		"unreadPollIntervalSeconds": int(UnreadPollInterval.Seconds()),
	})
}

func (h *RealtimeHandler) resolveURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}

	scheme := "wss"
	if h.local && r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "ws"
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + h.wsPath
}
