// Package api wires the Gin HTTP router to the replication
// coordinator and membership service — the full surface in spec §6.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dynamokv/internal/apierr"
	"dynamokv/internal/coordinator"
	"dynamokv/internal/membership"
	"dynamokv/internal/ring"
	"dynamokv/internal/vclock"
)

// Handler holds every dependency injected from main.
type Handler struct {
	selfID     string
	coord      *coordinator.Coordinator
	membership *membership.Service
	ring       *ring.Ring
}

// NewHandler builds a Handler.
func NewHandler(selfID string, coord *coordinator.Coordinator, m *membership.Service, r *ring.Ring) *Handler {
	return &Handler{selfID: selfID, coord: coord, membership: m, ring: r}
}

// Register mounts every route named in spec §6 on engine.
func (h *Handler) Register(engine *gin.Engine) {
	engine.GET("/ping", h.Ping)
	engine.GET("/ring_snapshot", h.RingSnapshot)
	engine.GET("/replicas_for_key/:key", h.ReplicasForKey)

	engine.PUT("/put/:key", h.withDelay(h.Put))
	engine.GET("/get/:key", h.withDelay(h.Get))
	engine.PUT("/replicate", h.withDelay(h.Replicate))
	engine.GET("/get_local/:key", h.GetLocal)
	engine.POST("/repair_once/:key", h.RepairOnce)

	engine.POST("/gossip", h.Gossip)

	engine.POST("/control/delay", h.ControlDelay)
	engine.POST("/control/clear_delay", h.ControlClearDelay)
}

// withDelay wraps a handler so the artificial per-request delay (set
// via /control/delay) is applied before the handler body runs, per
// spec §4.5's control-endpoint semantics.
func (h *Handler) withDelay(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.coord.MaybeSleep(c.Request.Context())
		next(c)
	}
}

// Ping answers the membership failure detector's liveness probe.
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "node": h.selfID})
}

// RingSnapshot returns the ring's virtual-node placement and the
// currently-known alive set, for debugging.
func (h *Handler) RingSnapshot(c *gin.Context) {
	alive := h.membership.AliveNodes()
	aliveList := make([]string, 0, len(alive))
	for id := range alive {
		aliveList = append(aliveList, id)
	}

	snap := h.ring.Snapshot()
	positions := make([][2]string, len(snap))
	for i, e := range snap {
		positions[i] = [2]string{e.Position, e.NodeID}
	}

	c.JSON(http.StatusOK, gin.H{
		"node":        h.selfID,
		"ring":        positions,
		"all_nodes":   h.ring.Nodes(),
		"alive_nodes": aliveList,
	})
}

// ReplicasForKey returns the full preference list for key, ignoring liveness.
func (h *Handler) ReplicasForKey(c *gin.Context) {
	key := c.Param("key")
	c.JSON(http.StatusOK, gin.H{"replicas": h.coord.ReplicasForKey(key)})
}

type putRequestBody struct {
	Value string `json:"value" binding:"required"`
}

// Put handles the client-facing PUT /put/:key.
func (h *Handler) Put(c *gin.Context) {
	key := c.Param("key")

	var body putRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apierr.BadRequestf("value required"))
		return
	}

	result, err := h.coord.Put(c.Request.Context(), key, body.Value)
	if err != nil {
		respondError(c, apierr.Internalf("%v", err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// Get handles the client-facing GET /get/:key.
func (h *Handler) Get(c *gin.Context) {
	key := c.Param("key")

	result, err := h.coord.Get(c.Request.Context(), key)
	if err != nil {
		if err == coordinator.ErrInsufficientReplicas {
			respondError(c, apierr.New(apierr.InsufficientReplicas, "not enough replicas responded"))
			return
		}
		respondError(c, apierr.Internalf("%v", err))
		return
	}
	c.JSON(http.StatusOK, result)
}

type replicateRequestBody struct {
	Key   string             `json:"key" binding:"required"`
	Value string             `json:"value" binding:"required"`
	VC    vclock.VectorClock `json:"vc"`
}

// Replicate handles the peer RPC PUT /replicate.
func (h *Handler) Replicate(c *gin.Context) {
	var body replicateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apierr.BadRequestf("key & value required"))
		return
	}

	vc := body.VC
	if vc == nil {
		vc = vclock.New()
	}
	h.coord.ApplyReplicate(body.Key, body.Value, vc)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "node": h.selfID})
}

// GetLocal handles the peer RPC GET /get_local/:key.
func (h *Handler) GetLocal(c *gin.Context) {
	key := c.Param("key")
	c.JSON(http.StatusOK, gin.H{"versions": h.coord.LocalVersions(key)})
}

// RepairOnce handles POST /repair_once/:key: single-hop anti-entropy.
func (h *Handler) RepairOnce(c *gin.Context) {
	key := c.Param("key")
	c.JSON(http.StatusOK, h.coord.RepairOnce(c.Request.Context(), key))
}

// Gossip handles POST /gossip: merge the remote table, return ours.
func (h *Handler) Gossip(c *gin.Context) {
	var remote membership.Table
	if err := c.ShouldBindJSON(&remote); err != nil {
		respondError(c, apierr.BadRequestf("invalid membership table"))
		return
	}
	h.membership.Merge(remote)
	c.JSON(http.StatusOK, h.membership.Snapshot())
}

type delayRequestBody struct {
	DelayMs int `json:"delay_ms"`
}

// ControlDelay handles POST /control/delay — a test hook to emulate a
// slow or partitioned node.
func (h *Handler) ControlDelay(c *gin.Context) {
	var body delayRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apierr.BadRequestf("delay_ms required"))
		return
	}
	h.coord.SetDelay(body.DelayMs)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "delay_ms": body.DelayMs})
}

// ControlClearDelay handles POST /control/clear_delay.
func (h *Handler) ControlClearDelay(c *gin.Context) {
	h.coord.ClearDelay()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func respondError(c *gin.Context, err *apierr.Error) {
	c.JSON(err.Kind.Status(), gin.H{"error": err.Message})
}
