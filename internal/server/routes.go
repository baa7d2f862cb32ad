package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/kdlink/internal/kd"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		st := a.host.Status()
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  a.name,
			"uptime":   time.Since(a.appeared).Round(time.Second).String(),
			"attached": st.Attached,
			"link_id":  st.LinkID,
		})
	})

	a.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.host.Status())
	})

	a.router.POST("/breakin", func(c *gin.Context) {
		a.host.Breakin()
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	})

	a.router.POST("/continue", func(c *gin.Context) {
		status := kd.StatusContinue
		if raw := c.Query("status"); raw != "" {
			v, err := strconv.ParseUint(raw, 0, 32)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
				return
			}
			status = uint32(v)
		}
		if !a.host.Status().Stopped {
			c.JSON(http.StatusConflict, gin.H{"error": "target is running"})
			return
		}
		a.host.RequestContinue(status)
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	})

	gatherers := prometheus.Gatherers{a.gatherer}
	if a.gatherer != prometheus.DefaultGatherer {
		gatherers = append(gatherers, prometheus.DefaultGatherer)
	}
	a.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))
}
