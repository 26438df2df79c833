// Command kernelserver is a reference embedding of the kernel: it wires
// the WebSocket and peer-mesh transports, the WebRTC signaling bridge,
// and the Prometheus/health surface onto one gin.Engine, the way the
// teacher's cmd/v1/session/main.go wires its own Hub. It exists to prove
// the library is embeddable end to end, not as the only way to use it.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaymesh/kernel/kernel"
	"github.com/relaymesh/kernel/pkg/config"
	"github.com/relaymesh/kernel/pkg/logging"
	"github.com/relaymesh/kernel/signaling"
	"github.com/relaymesh/kernel/transport/mesh"
	"github.com/relaymesh/kernel/transport/websocket"
)

func main() {
	config.LoadDotEnv(".env")

	log_, err := logging.New(config.LogLevel(), os.Getenv("KERNEL_DEV_LOGS") == "true")
	if err != nil {
		log.Fatalf("kernelserver: logger init: %v", err)
	}

	wsOpts := config.DefaultWebSocketOptions()
	meshOpts := config.DefaultMeshOptions()

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	wsTransport := websocket.New(websocket.Options{
		Host:                wsOpts.Host,
		Port:                wsOpts.Port,
		Path:                wsOpts.Path,
		HeartbeatIntervalMs: wsOpts.HeartbeatIntervalMs,
		Logger:              log_.Scoped(logging.String("transport", "websocket")),
		Engine:              engine,
	})

	meshTransport := mesh.New(mesh.Options{
		NodeID:              meshOpts.NodeID,
		Host:                meshOpts.Host,
		Port:                meshOpts.Port,
		Peers:               meshOpts.Peers,
		ReconnectIntervalMs: meshOpts.ReconnectIntervalMs,
		Logger:              log_.Scoped(logging.String("transport", "mesh")),
	})

	k := kernel.New(kernel.Options{
		Transports: []kernel.Transport{wsTransport, meshTransport},
		LogLevel:   config.LogLevel(),
	})

	if err := signaling.Attach(k, signaling.Options{AutoJoinRooms: true}); err != nil {
		log.Fatalf("kernelserver: attach signaling bridge: %v", err)
	}

	if err := k.Start(context.Background()); err != nil {
		log.Fatalf("kernelserver: start: %v", err)
	}
	log_.Info("kernel started", logging.Int("ws_port", wsOpts.Port), logging.Int("mesh_port", meshOpts.Port))

	httpAddr := ":8080"
	srv := &http.Server{Addr: httpAddr, Handler: engine}
	go func() {
		log_.Info("http server starting", logging.String("addr", httpAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log_.Error("http server failed", logging.Err(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log_.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log_.Error("http server shutdown forced", logging.Err(err))
	}
	if err := k.Stop(ctx); err != nil {
		log_.Error("kernel shutdown reported errors", logging.Err(err))
	}
	log_.Info("exited")
}
