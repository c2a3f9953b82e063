package httpx

import (
	"fmt"
	"net/http"

	sentinel "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	"github.com/alibaba/sentinel-golang/core/flow"
	"github.com/gin-gonic/gin"
)

// InitRateLimit starts sentinel and loads one QPS rule per resource.
func InitRateLimit(qps float64, resources ...string) error {
	if err := sentinel.InitDefault(); err != nil {
		return fmt.Errorf("sentinel init: %w", err)
	}
	rules := make([]*flow.Rule, 0, len(resources))
	for _, res := range resources {
		rules = append(rules, &flow.Rule{
			Resource:               res,
			TokenCalculateStrategy: flow.Direct,
			ControlBehavior:        flow.Reject,
			Threshold:              qps,
			StatIntervalInMs:       1000,
		})
	}
	if _, err := flow.LoadRules(rules); err != nil {
		return fmt.Errorf("sentinel rules: %w", err)
	}
	return nil
}

// RateLimit guards the route with the sentinel resource and answers 429 when blocked.
func RateLimit(resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, b := sentinel.Entry(resource, sentinel.WithTrafficType(base.Inbound))
		if b != nil {
			Error(c, http.StatusTooManyRequests, "rate_limited", "too many requests, retry shortly")
			return
		}
		defer e.Exit()
		c.Next()
	}
}
