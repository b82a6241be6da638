// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging wires the structured logger every other package in this
// module logs through: sirupsen/logrus for project-wide structured
// logging, with containerd/log's field-dump style for attaching
// contextual key/value pairs to a log line.
package logging

import (
	"context"
	"os"

	clog "github.com/containerd/log"
	"github.com/sirupsen/logrus"
)

// Logger is the interface every component in this module logs through. It
// is satisfied by *logrus.Entry.
type Logger = logrus.FieldLogger

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the process-wide log level, driven by the config
// file's debug setting the way runsc/config's flagDebug toggles verbosity.
func SetLevel(debug bool) {
	if debug {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

// For returns a component-scoped logger, e.g. logging.For("core").
func For(component string) Logger {
	return base.WithField("component", component)
}

// DumpDebugContext renders extra key/value context via containerd/log's
// context-scoped logger, for use in verbose diagnostic dumps (see
// pkg/shim/v1/runsc/debug.go for the pattern this mirrors).
func DumpDebugContext(ctx context.Context, fields map[string]interface{}) *logrus.Entry {
	entry := clog.G(ctx)
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	return entry
}
