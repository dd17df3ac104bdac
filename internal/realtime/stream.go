package realtime

import "context"

// Stream 实现 live query：先投递一次快照，之后每收到变更信号就重新查询并投递完整结果集，
// 直到 ctx 结束或订阅关闭。连续到达的信号会合并为一次重查。
func Stream[T any](ctx context.Context, sub *Subscription, load func(context.Context) (T, error), emit func(T) error) error {
	snap, err := load(ctx)
	if err != nil {
		return err
	}
	if err := emit(snap); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-sub.C():
			if !ok {
				return nil
			}
			drain(sub.C())
			snap, err := load(ctx)
			if err != nil {
				return err
			}
			if err := emit(snap); err != nil {
				return err
			}
		}
	}
}

func drain(ch <-chan string) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
