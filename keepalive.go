package yamux

import (
	"context"
	"time"

	"github.com/ngrok/yamux/log"
)

// keepalive periodically pings the peer so a dead connection is noticed
// even when no stream has data to send. A ping that fails or goes
// unanswered for ConnectionWriteTimeout tears the session down.
func (s *session) keepalive() {
	ticker := time.NewTicker(s.config.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.config.ConnectionWriteTimeout)
			_, err := s.Ping(ctx)
			cancel()
			if err != nil {
				s.logger.Log(context.Background(), log.LogLevelWarn, "keepalive failed", map[string]interface{}{"err": err})
				s.die(newErr(ErrorCodeTimeout, err))
				return
			}
		case <-s.dead:
			return
		}
	}
}
