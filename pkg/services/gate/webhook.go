package gate

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/sykli/engine/pkg/errors"
	"github.com/sykli/engine/pkg/graph"
	"github.com/sykli/engine/pkg/logger"
)

// WebhookApprover resolves spec.md's previously-open webhook gate question:
// a gin HTTP server exposes POST /gates/:run/:task, and a caller POSTs a
// JSON decision with a bearer JWT, HMAC-signed with the configured secret,
// in its Authorization header. A missing, expired or badly-signed token
// gets 401 and is otherwise ignored; a validated deny decision fails the
// gate with GateDenied, and a gate with no validated decision before its
// timeout fails with GateTimedOut. Only a validated approval passes it.
type WebhookApprover struct {
	secret []byte
	log    *logger.Logger

	mu      sync.Mutex
	pending map[string]chan decision
}

// NewWebhookApprover builds an approver verifying tokens signed with
// secret.
func NewWebhookApprover(secret string, log *logger.Logger) *WebhookApprover {
	return &WebhookApprover{secret: []byte(secret), log: log, pending: make(map[string]chan decision)}
}

// Handler returns the gin engine serving POST /gates/:run/:task; cmd/sykli
// serves it on its own listener at the configured webhook address.
func (w *WebhookApprover) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/gates/:run/:task", w.handleDecision)
	return r
}

type decisionPayload struct {
	Decision string `json:"decision"`
}

func (w *WebhookApprover) handleDecision(c *gin.Context) {
	tokenString := extractBearer(c.GetHeader("Authorization"))
	if tokenString == "" {
		c.Status(http.StatusUnauthorized)
		return
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("GateWebhookBadSigningMethod", "unexpected signing method", http.StatusUnauthorized)
		}
		return w.secret, nil
	})
	if err != nil || !token.Valid {
		c.Status(http.StatusUnauthorized)
		return
	}

	var payload decisionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	d, ok := classify(payload.Decision)
	if !ok {
		c.Status(http.StatusBadRequest)
		return
	}

	key := c.Param("run") + "/" + c.Param("task")
	w.mu.Lock()
	ch, waiting := w.pending[key]
	w.mu.Unlock()
	if !waiting {
		c.Status(http.StatusNotFound)
		return
	}

	select {
	case ch <- d:
		c.Status(http.StatusOK)
	default:
		c.Status(http.StatusConflict)
	}
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// Approve registers a pending channel for (runID, taskName) and blocks
// until a validated webhook decision arrives or the gate's timeout fires.
func (w *WebhookApprover) Approve(ctx context.Context, g *graph.Gate, runID, taskName string) error {
	key := runID + "/" + taskName
	ch := make(chan decision, 1)

	w.mu.Lock()
	w.pending[key] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, key)
		w.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, timeoutFor(g))
	defer cancel()

	select {
	case <-ctx.Done():
		return errors.GateTimedOut(taskName)
	case d := <-ch:
		if d == decisionApprove {
			return nil
		}
		return errors.GateDenied(taskName)
	}
}
