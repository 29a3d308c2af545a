/***************************************************************
 *
 * Copyright (C) 2023, University of Nebraska-Lincoln
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package main

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

type progressStatus struct {
	xfer      int64
	size      int64
	completed bool
}

type progressBar struct {
	progressStatus
	bar *mpb.Bar
}

// progressBars renders one mpb bar per URI being fetched by "cget fetch",
// ticking at a fixed interval off whatever sizes/transferred counts the
// caller reports through callback.
type progressBars struct {
	lock   sync.RWMutex
	done   chan bool
	status map[string]progressStatus
	egrp   *errgroup.Group
}

func newProgressBars() *progressBars {
	return &progressBars{
		done:   make(chan bool),
		status: make(map[string]progressStatus),
	}
}

func (pb *progressBars) callback(uri string, xfer int64, size int64, completed bool) {
	pb.lock.Lock()
	defer pb.lock.Unlock()
	stat := pb.status[uri]
	stat.completed = completed
	stat.size = size
	stat.xfer = xfer
	pb.status[uri] = stat
}

func (pb *progressBars) shutdown() {
	if pb.egrp != nil {
		pb.done <- true
		if err := pb.egrp.Wait(); err != nil {
			log.Debugln("failure shutting down progress bars:", err)
		}
	}
}

func (pb *progressBars) launchDisplay(ctx context.Context) {
	progressCtr := mpb.NewWithContext(ctx)
	pb.egrp, _ = errgroup.WithContext(ctx)

	pb.egrp.Go(func() error {
		defer progressCtr.Wait()

		const tick = 200 * time.Millisecond
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		bars := make(map[string]*progressBar)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pb.done:
				for uri := range bars {
					bars[uri].bar.Abort(true)
					bars[uri].bar.Wait()
				}
				return nil
			case <-ticker.C:
				pb.tick(progressCtr, bars, tick)
			}
		}
	})
}

func (pb *progressBars) tick(progressCtr *mpb.Progress, bars map[string]*progressBar, tick time.Duration) {
	pb.lock.RLock()
	defer pb.lock.RUnlock()

	for uri, status := range pb.status {
		b, ok := bars[uri]
		if !ok {
			b = &progressBar{
				bar: progressCtr.AddBar(0,
					mpb.PrependDecorators(
						decor.Name(filepath.Base(uri), decor.WCSyncSpaceR),
						decor.CountersKibiByte("% .2f / % .2f"),
					),
					mpb.AppendDecorators(
						decor.OnComplete(decor.EwmaETA(decor.ET_STYLE_GO, 15), ""),
						decor.OnComplete(decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 15), "done"),
					),
				),
			}
			bars[uri] = b
		}
		if b.size == 0 && status.size > 0 {
			b.bar.SetTotal(status.size, false)
		}
		b.bar.EwmaSetCurrent(status.xfer, tick)
		b.progressStatus = status
		if status.completed {
			b.bar.SetTotal(status.size, true)
		}
	}
}
