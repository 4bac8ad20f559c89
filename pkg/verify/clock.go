package verify

import (
	"context"
	"time"
)

// Clock 抽象时间来源，轮询等待全部经由它执行
// 为什么不直接用 time.Sleep：
// 认证轮询和可用性监控是仅有的两个挂起点，测试必须能用假时钟
// 瞬间推进它们，否则每个超时用例都要真等几十秒。
type Clock interface {
	Now() time.Time

	// Sleep 阻塞 d 时长，或者在 ctx 取消时提前返回 ctx.Err()
	// 绝不忙等。
	Sleep(ctx context.Context, d time.Duration) error
}

// systemClock 是生产实现
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// 零间隔也要让出一次取消检查的机会
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemClock 返回基于 time 包的真实时钟
func SystemClock() Clock { return systemClock{} }
