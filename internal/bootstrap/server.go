package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/ticketon/ticketon/api"
	"github.com/ticketon/ticketon/config"
)

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails.
func Run(ctx context.Context, cfg *config.Config, purchases *api.PurchaseHandler, tickets *api.TicketHandler, webhooks *api.WebhookHandler) error {
	router := gin.New()
	router.Use(gin.Recovery())

	purchases.Register(router.Group("/purchases"))
	purchases.RegisterCheckoutLanding(router.Group("/checkout"))
	tickets.Register(router.Group("/"))
	webhooks.Register(router.Group("/webhooks"))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.HTTP.DocsDir != "" {
		router.StaticFile("/docs/openapi.json", cfg.HTTP.DocsDir+"/openapi.json")
		router.GET("/docs/*any", gin.WrapH(httpSwagger.Handler(
			httpSwagger.URL("/docs/openapi.json"),
		)))
	}

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}
