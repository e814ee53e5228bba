package main

import (
	"net/http"
	"time"

	"github.com/ashendes/petadoption-payments/internal/config"
	"github.com/ashendes/petadoption-payments/internal/gateway"
	"github.com/ashendes/petadoption-payments/internal/payment"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func getStatus(registry *gateway.Registry, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		gateways := gin.H{}
		for _, name := range registry.Names() {
			profile, _ := registry.Profile(name)
			switch p := profile.(type) {
			case *gateway.HTTPProfile:
				gateways[name] = gin.H{"circuit_state": p.CircuitState()}
			case *gateway.MockProfile:
				gateways[name] = gin.H{
					"chaos_decline_mode": p.DeclineMode(),
					"chaos_slow_mode":    p.SlowMode(),
				}
			default:
				gateways[name] = gin.H{}
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"service":       payment.ServiceName,
			"status":        "healthy",
			"gateways":      gateways,
			"routes":        cfg.GatewayRoutes,
			"chaos_enabled": cfg.ChaosEnabled,
			"timestamp":     time.Now().Format(time.RFC3339),
		})
	}
}

func registerChaos(router gin.IRoutes, registry *gateway.Registry) {
	router.POST("/chaos/gateway/:name/decline", chaosSwitch(registry, "decline", true))
	router.POST("/chaos/gateway/:name/decline/disable", chaosSwitch(registry, "decline", false))
	router.POST("/chaos/gateway/:name/slow", chaosSwitch(registry, "slow", true))
	router.POST("/chaos/gateway/:name/slow/disable", chaosSwitch(registry, "slow", false))
	log.Warn("Chaos endpoints enabled")
}

func chaosSwitch(registry *gateway.Registry, mode string, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		profile, ok := registry.Profile(name)
		mock, isMock := profile.(*gateway.MockProfile)
		if !ok || !isMock {
			c.JSON(http.StatusNotFound, gin.H{"message": "No mock gateway named " + name})
			return
		}

		switch mode {
		case "decline":
			mock.SetDeclineMode(enabled)
		case "slow":
			mock.SetSlowMode(enabled)
		}

		state := "disabled"
		if enabled {
			state = "enabled"
		}
		log.WithFields(log.Fields{
			"gateway": name,
			"mode":    mode,
			"enabled": enabled,
		}).Info("Chaos mode changed")
		c.JSON(http.StatusOK, gin.H{"message": "Chaos " + mode + " mode " + state, "gateway": name})
	}
}
