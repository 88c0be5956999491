package repository

import (
	"context"
	"sync"
)

type queryFunc func(ctx context.Context, q Query) ([]Document, error)

// liveQuery перезапускает запрос по сигналу и отдает результат, если он изменился.
// Все доставки одной подписки идут из одной горутины, по порядку
type liveQuery struct {
	q       Query
	run     queryFunc
	onData  func([]Document)
	onError func(error)

	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func startLiveQuery(parent context.Context, q Query, run queryFunc, onData func([]Document), onError func(error)) *liveQuery {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	l := &liveQuery{
		q:       q,
		run:     run,
		onData:  onData,
		onError: onError,
		notify:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	l.poke()
	go l.loop()
	return l
}

func (l *liveQuery) loop() {
	defer close(l.done)
	var last []Document
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.notify:
		}

		docs, err := l.run(l.ctx, l.q)
		if l.ctx.Err() != nil {
			return
		}
		if err != nil {
			if l.onError != nil {
				l.onError(err)
			}
			continue
		}
		if sameDocuments(last, docs) {
			continue
		}
		last = docs
		if l.onData != nil {
			l.onData(docs)
		}
	}
}

// poke - неблокирующий сигнал; несколько сигналов подряд схлопываются в один
func (l *liveQuery) poke() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *liveQuery) stop() {
	l.once.Do(l.cancel)
}

// Done закрывается после выхода горутины доставки
func (l *liveQuery) Done() <-chan struct{} {
	return l.done
}
