package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/coursechat-server/internal/auth"
	"github.com/vovakirdan/coursechat-server/internal/config"
	"github.com/vovakirdan/coursechat-server/internal/core"
	"github.com/vovakirdan/coursechat-server/internal/service/rooms"
	"github.com/vovakirdan/coursechat-server/internal/store"
)

// NewServer builds the HTTP server: REST API under /api, the websocket endpoint and health.
func NewServer(
	hub *core.Hub,
	authService *auth.Service,
	roomService *rooms.Service,
	users store.UserStore,
	cfg *config.Config,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(roomService, logger)
	userHandlers := NewUserHandlers(users, logger)

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	protected := api.Group("")
	protected.Use(AuthMiddleware(authService, logger))
	protected.GET("/me", userHandlers.Me)
	protected.POST("/courses", roomHandlers.CreateCourse)
	protected.GET("/rooms", roomHandlers.ListRooms)
	protected.POST("/rooms", roomHandlers.CreateRoom)
	protected.DELETE("/rooms/:id", roomHandlers.DeleteRoom)
	protected.GET("/rooms/:id/messages", roomHandlers.History)
	protected.POST("/rooms/:id/join", roomHandlers.JoinRoom)
	protected.POST("/rooms/:id/leave", roomHandlers.LeaveRoom)

	// The websocket upgrade hijacks the raw connection, so it bypasses gin's writer.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, cfg, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
