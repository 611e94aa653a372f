package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gtrader/internal/models"
	"gtrader/internal/risk"
	"gtrader/internal/trading"
)

const (
	defaultDecisionLimit = 20
	maxDecisionLimit     = 100
	defaultTradeLimit    = 50
	maxTradeLimit        = 500
)

func (s *Server) registry(c *gin.Context) (*trading.Registry, bool) {
	reg := s.status.Registry()
	if reg == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade registry unavailable"})
		return nil, false
	}
	return reg, true
}

// parseLimit reads ?limit= and writes a 400 when it is outside 1..max.
func parseLimit(c *gin.Context, def, max int) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(max)})
		return 0, false
	}
	return n, true
}

func (s *Server) positions(c *gin.Context) {
	reg, ok := s.registry(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": reg.OpenTrades()})
}

// decisions serves the decision log newest first.
func (s *Server) decisions(c *gin.Context) {
	reg, ok := s.registry(c)
	if !ok {
		return
	}
	limit, ok := parseLimit(c, defaultDecisionLimit, maxDecisionLimit)
	if !ok {
		return
	}
	coin := strings.ToUpper(strings.TrimSpace(c.Query("asset")))

	all := reg.Decisions()
	out := make([]trading.DecisionRecord, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if coin != "" && all[i].Coin != coin {
			continue
		}
		out = append(out, all[i])
	}
	c.JSON(http.StatusOK, gin.H{"decisions": out})
}

// trades serves closed trade history newest first.
func (s *Server) trades(c *gin.Context) {
	reg, ok := s.registry(c)
	if !ok {
		return
	}
	limit, ok := parseLimit(c, defaultTradeLimit, maxTradeLimit)
	if !ok {
		return
	}
	coin := strings.ToUpper(strings.TrimSpace(c.Query("asset")))
	status := models.TradeStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	switch status {
	case "", models.TradeStatusClosedWin, models.TradeStatusClosedLoss, models.TradeStatusCancelled:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported status: " + string(status)})
		return
	}

	all := reg.Closed()
	out := make([]models.Trade, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		t := all[i]
		if coin != "" && t.Coin != coin {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

type performanceResponse struct {
	trading.Summary
	Risk risk.DailyRiskState `json:"risk"`
}

func (s *Server) performance(c *gin.Context) {
	reg, ok := s.registry(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, performanceResponse{Summary: reg.Summary(), Risk: s.status.RiskState()})
}
