package trading

import "github.com/sirupsen/logrus"

func (l *Loop) logEntry() *logrus.Entry {
	return l.log.WithComponent("trading")
}

func (l *Loop) coinEntry(coin string) *logrus.Entry {
	return l.logEntry().WithField("coin", coin)
}
