/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/gptp/timestamp"
)

// rxQueueSize is how many received frames may wait for the next tick
const rxQueueSize = 128

type rxFrame struct {
	b  []byte
	rx time.Time
}

// Run drives the port until ctx is cancelled or receiving fails
func (p *Port) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	frames := make(chan rxFrame, rxQueueSize)
	eg.Go(func() error {
		return p.receive(ctx, frames)
	})
	eg.Go(func() error {
		return p.loop(ctx, frames)
	})
	return eg.Wait()
}

// receive reads frames and queues them for the loop. It never touches state machines.
func (p *Port) receive(ctx context.Context, frames chan<- rxFrame) error {
	for {
		if ctx.Err() != nil {
			log.Debug("cancelled receiver")
			return ctx.Err()
		}
		buf := make([]byte, timestamp.PayloadSizeBytes)
		n, rx, err := p.conn.ReadFrame(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				log.Debug("connection closed, stopping receiver")
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		select {
		case frames <- rxFrame{b: buf[:n], rx: rx}:
		default:
			p.stats.UpdateCounterBy(counterRXQueueFull, 1)
			if p.warnLimiter.Allow() {
				log.Warning("receive queue is full, dropping frame")
			}
		}
	}
}

func (p *Port) loop(ctx context.Context, frames <-chan rxFrame) error {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()
	p.tick(frames)
	for {
		select {
		case <-ctx.Done():
			log.Debug("cancelled main loop")
			return ctx.Err()
		case <-ticker.C:
			p.tick(frames)
		}
	}
}

// tick runs one iteration: timer events first, then all frames queued so far
func (p *Port) tick(frames <-chan rxFrame) {
	p.Enable()
	p.Tick(p.timers.Now())
	for {
		select {
		case f := <-frames:
			p.HandleFrame(f.b, f.rx)
		default:
			p.publishStats()
			return
		}
	}
}
