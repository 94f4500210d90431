package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/visualml/visualml_go_server/internal/pkg/response"
)

// PollThrottle 状态轮询限速中间件。同一用户对同一个 run 的轮询间隔
// 不得小于 minInterval，超限返回 429，提示客户端退避。
// 不同 run 各自计窗口，批量轮询不受影响。
func PollThrottle(rdb *redis.Client, minInterval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if minInterval <= 0 {
			c.Next()
			return
		}

		userID, ok := GetUserID(c)
		if !ok {
			response.AuthError(c, "missing credentials")
			c.Abort()
			return
		}

		// 键用实际请求路径而非路由模板：不同 run 的轮询互不影响
	key := fmt.Sprintf("poll_throttle:%s:%s", userID, c.Request.URL.Path)
		acquired, err := rdb.SetNX(c.Request.Context(), key, 1, minInterval).Result()
		if err != nil {
			// redis 故障时放行，限速只是保护措施
			c.Next()
			return
		}

		if !acquired {
			response.QuotaError(c, []string{fmt.Sprintf("polling too fast, minimum interval is %dms", minInterval.Milliseconds())})
			c.Abort()
			return
		}

		c.Next()
	}
}
