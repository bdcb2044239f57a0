// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package sdnotify reports the daemon's lifecycle and current state to
// systemd over the sd_notify protocol (spec §6). It is a no-op when
// not running under systemd (NOTIFY_SOCKET unset), which is how
// go-systemd's daemon.SdNotify already behaves.
package sdnotify

import (
	"github.com/coreos/go-systemd/v22/daemon"
	log "github.com/sirupsen/logrus"
)

// State names the daemon reports via STATUS=, matching spec §6's
// lifecycle states.
type State string

const (
	StateInitialize State = "INITIALIZE"
	StateBootstrap  State = "BOOTSTRAP"
	StateIdle       State = "IDLE"
	StateUpdate     State = "UPDATE"
	StateSnapshot   State = "SNAPSHOT"
)

// Ready notifies systemd that startup has completed.
func Ready() {
	notify("READY=1")
}

// Status reports the daemon's current lifecycle state.
func Status(s State) {
	notify("STATUS=" + string(s))
}

// Stopping notifies systemd that a graceful shutdown is underway.
func Stopping() {
	notify("STOPPING=1")
}

func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.WithError(err).Debug("sd_notify failed")
	}
}
