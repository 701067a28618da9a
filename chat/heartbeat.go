package chat

import (
	"time"

	"chatserver/protocol"
	"chatserver/utils"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// constantDelay は秒未満の周期も扱える cron.Schedule です。
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// heartbeat は接続ごとの生存確認ジョブです。
// 接続への参照と反応時間だけを持ち、切断時に stop でスケジュールを止めます。
type heartbeat struct {
	conn     *Connection
	reaction time.Duration
	cron     *cron.Cron
}

func startHeartbeat(c *Connection, period, reaction time.Duration, logger *zap.Logger) *heartbeat {
	cronLogger := utils.NewCronLogger(logger)
	hb := &heartbeat{conn: c, reaction: reaction}
	hb.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	hb.cron.Schedule(constantDelay(period), cron.FuncJob(hb.probe))
	hb.cron.Start()
	return hb
}

// probe sends PING and disconnects if no PONG arrives within the reaction window.
func (hb *heartbeat) probe() {
	c := hb.conn
	if c.closed() {
		return
	}

	c.alive.Store(false)
	if err := c.send(protocol.Ping, nil); err != nil {
		c.logger.Debug("PING の送信に失敗しました", zap.Error(err))
	}

	timer := time.NewTimer(hb.reaction)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.done:
		return
	}

	if !c.alive.Load() {
		c.logger.Info("PONG が返ってこないため切断します", zap.Duration("reaction", hb.reaction))
		c.disconnect(protocol.ReasonPongTimeout)
	}
}

// stop はジョブの終了を待ちません (ジョブ内から呼ばれるため)。
func (hb *heartbeat) stop() {
	hb.cron.Stop()
}
