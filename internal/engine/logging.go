package engine

import (
	"github.com/sirupsen/logrus"
)

func (e *Engine) logEntry(symbol string) *logrus.Entry {
	if symbol == "" {
		return e.log.WithComponent("engine")
	}
	return e.log.WithSymbol(symbol).WithField("component", "engine")
}
