package utils

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronLogger は robfig/cron のログを zap に流します。
// cron の Info はジョブ実行ごとに出るので Debug に落とします。
type CronLogger struct {
	sugar *zap.SugaredLogger
}

var _ cron.Logger = (*CronLogger)(nil)

func NewCronLogger(logger *zap.Logger) *CronLogger {
	return &CronLogger{sugar: logger.Named("cron").Sugar()}
}

func (l *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
