package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/response"
)

const healthProbeTimeout = 3 * time.Second

// Pinger probes the grading API.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NetworkWatcher is told when the shell sees the network come back.
type NetworkWatcher interface {
	NetworkRestored()
}

// SystemHandler reports daemon health and relays network notifications.
type SystemHandler struct {
	api       Pinger
	network   NetworkWatcher
	deviceID  string
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(api Pinger, network NetworkWatcher, deviceID string, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		api:       api,
		network:   network,
		deviceID:  deviceID,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthStatus struct {
	Status     string `json:"status"`
	DeviceID   string `json:"device_id"`
	Uptime     string `json:"uptime"`
	GradingAPI string `json:"grading_api"`
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
}

// Health godoc
// GET /health
// Always 200 while the daemon runs; grading_api says whether submissions
// would go out right now.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	grading := "up"
	if err := h.api.Ping(ctx); err != nil {
		grading = "down"
	}

	response.Success(c, http.StatusOK, healthStatus{
		Status:     "ok",
		DeviceID:   h.deviceID,
		Uptime:     formatDuration(time.Since(h.startTime)),
		GradingAPI: grading,
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	})
}

// NetworkRestored godoc
// POST /api/v1/network/restored
// The shell saw connectivity return; probe now and drain the offline queue.
func (h *SystemHandler) NetworkRestored(c *gin.Context) {
	h.log.Info().Msg("Shell reported network restored")
	h.network.NetworkRestored()
	response.Success(c, http.StatusAccepted, gin.H{"status": "probing"})
}

// ---------- Helpers ----------

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
