package main

import (
	"github.com/gin-gonic/gin"

	"dealsense/internal/httpapi"
	"dealsense/internal/ws"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, stream *ws.Handler) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		callGroup := v1.Group("/calls")
		{
			callGroup.POST("", h.CreateCall)
			callGroup.GET("/:call_id", h.GetCall)
			callGroup.POST("/:call_id/end", h.EndCall)
			callGroup.DELETE("/:call_id", h.PurgeCall)

			callGroup.GET("/:call_id/transcript", h.GetTranscript)
			callGroup.POST("/:call_id/transcript/chunks", h.AppendSyntheticChunk)

			callGroup.GET("/:call_id/summary", h.GetSummary)
			callGroup.GET("/:call_id/action-items", h.ListActionItems)
			callGroup.GET("/:call_id/events", h.GetCallEvents)

			// Live event stream: the client speaks the start_call/audio_chunk/
			// push_to_talk_query/end_call protocol over this socket.
			callGroup.GET("/:call_id/stream", stream.Serve)
		}

		v1.GET("/deals/:deal_id/calls", h.ListCallsByDeal)
		v1.PATCH("/action-items/:item_id", h.UpdateActionItem)
	}
}
