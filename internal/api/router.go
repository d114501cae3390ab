package api

import "github.com/gin-gonic/gin"

// NewRouter builds the Gin engine for a node: logging/recovery
// middleware plus every route in spec §6.
func NewRouter(debug bool, h *Handler) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(Logger(h.selfID), Recovery(h.selfID))
	h.Register(engine)
	return engine
}
