package health

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ChainIDer is satisfied by *ethclient.Client.
type ChainIDer interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// SessionCounter reports how many detection sessions are active and how many
// of those have gone quiet.
type SessionCounter func() (active, stale int)

// Database checks that the connection pool answers a ping.
func Database(db Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}

// RPC checks that the node is reachable and on the expected chain.
func RPC(client ChainIDer, wantChainID int64) Checker {
	return func(ctx context.Context) Status {
		id, err := client.ChainID(ctx)
		if err != nil {
			return Status{Name: "rpc", Healthy: false, Detail: err.Error()}
		}
		if wantChainID != 0 && id.Int64() != wantChainID {
			return Status{Name: "rpc", Healthy: false, Detail: fmt.Sprintf("chain id %s, want %d", id, wantChainID)}
		}
		return Status{Name: "rpc", Healthy: true, Detail: "chain " + id.String()}
	}
}

// Sessions reports unhealthy while any active session is stale.
func Sessions(count SessionCounter) Checker {
	return func(context.Context) Status {
		active, stale := count()
		detail := fmt.Sprintf("%d active, %d stale", active, stale)
		return Status{Name: "detection", Healthy: stale == 0, Detail: detail}
	}
}

// Handler serves the aggregate status: 200 when healthy, 503 otherwise.
func (r *Registry) Handler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		healthy, statuses := r.CheckAll(ctx)
		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":    status,
			"version":   version,
			"checks":    statuses,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
