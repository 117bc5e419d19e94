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
	"fmt"
	"strings"

	ptp "github.com/facebook/gptp/gptp/protocol"
	"github.com/facebook/gptp/gptp/stats"
)

// StatsServer is a stats server interface
type StatsServer interface {
	// Reset atomically sets all the counters to 0
	Reset()
	SetCounter(key string, val int64)
	UpdateCounterBy(key string, count int64)
	SetPortStats(s *stats.PortStats)
}

// counters updated by the port
const (
	counterDelayAccepted      = "gptp.dm.delay.accepted"
	counterDelayNegative      = "gptp.dm.delay.discarded_negative"
	counterDelayTooLarge      = "gptp.dm.delay.discarded_large"
	counterDelayMissingTS     = "gptp.dm.delay.missing_timestamp"
	counterDMMismatch         = "gptp.dm.mismatch"
	counterDMRetry            = "gptp.dm.retry"
	counterDMFollowUpTimeout  = "gptp.dm.followup_timeout"
	counterBMCInferior        = "gptp.bmc.announce.inferior"
	counterBMCLoop            = "gptp.bmc.announce.loop"
	counterBMCAnnounceTimeout = "gptp.bmc.announce.timeout"
	counterCSMismatch         = "gptp.cs.mismatch"
	counterCSSyncTimeout      = "gptp.cs.sync.timeout"
	counterCSClockSet         = "gptp.cs.clock.set"
	counterCSClockAdjust      = "gptp.cs.clock.adjust"
	counterCSClockError       = "gptp.cs.clock.error"
	counterDecodeError        = "gptp.rx.decode_error"
	counterOwnFrame           = "gptp.rx.own"
	counterUnknownDestination = "gptp.rx.unknown_destination"
	counterTXError            = "gptp.tx.error"
	counterTXTimestampError   = "gptp.tx.timestamp_error"
	counterRXTimestampMissing = "gptp.rx.timestamp_missing"
	counterRXQueueFull        = "gptp.rx.queue_full"
	counterTimerEventsDropped = "gptp.timer.dropped"
)

func portStatsKey(prefix string, t ptp.MessageType) string {
	return fmt.Sprintf("%s%s", prefix, strings.ToLower(t.String()))
}
