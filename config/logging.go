/***************************************************************
 *
 * Copyright (C) 2024, Pelican Project, Morgridge Institute for Research
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

// Package config wires up cget's process-wide logging and, on Linux,
// checks for the capability needed to bind privileged ports in
// cget serve.
package config

import (
	"io"
	"os"
	"regexp"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"

	"github.com/charto/cget/param"
)

type (
	RegexpFilter struct {
		Regexp *regexp.Regexp
		Name   string
		Levels []log.Level
		Fire   func(*log.Entry) error
	}

	// A logrus hook that carries a list of regexp-based "filters". If any
	// filter matches the incoming log line, its callback is invoked. Used
	// here to redact bearer tokens that leak into log messages through
	// fetched URLs carrying an "authz=Bearer ..." query parameter.
	RegexpFilterHook struct {
		filters atomic.Pointer[[]*RegexpFilter]
	}
)

var (
	globalFilters RegexpFilterHook

	bearerTokenRe = regexp.MustCompile(`(?i)(authz=Bearer(?:%20|\+|\s))[A-Za-z0-9\-_.~+/]+=*`)
)

func (fh *RegexpFilterHook) Levels() []log.Level {
	return log.AllLevels
}

func (fh *RegexpFilterHook) Fire(entry *log.Entry) (err error) {
	filters := fh.filters.Load()
	if filters == nil {
		return nil
	}
	for _, filter := range *filters {
		if filter.Regexp.MatchString(entry.Message) {
			if curErr := filter.Fire(entry); curErr != nil && err == nil {
				err = curErr
			}
		}
	}
	return
}

// InitLogging configures the global logrus logger's level from
// param.Logging_Level, installs the bearer-token redaction filter, and
// subscribes to future Logging_Level changes via RegisterLoggingCallback.
func InitLogging() error {
	level, err := log.ParseLevel(param.Logging_Level.GetString())
	if err != nil {
		level = log.InfoLevel
	}
	filters := make([]*RegexpFilter, 0)
	globalFilters.filters.Store(&filters)
	applyFilterHook(level)
	AddFilter(&RegexpFilter{
		Name:   "redact-bearer-token",
		Regexp: bearerTokenRe,
		Fire: func(entry *log.Entry) error {
			entry.Message = bearerTokenRe.ReplaceAllString(entry.Message, "${1}REDACTED")
			return nil
		},
	})
	RegisterLoggingCallback()
	return nil
}

func applyFilterHook(level log.Level) {
	log.SetLevel(log.DebugLevel)
	hookLevels := make([]log.Level, 0)
	for _, lvl := range log.AllLevels {
		if lvl <= level {
			hookLevels = append(hookLevels, lvl)
		}
	}

	// logrus reads a hook's levels when the hook is registered, so a level
	// change installs a fresh hook set; the filter list is left as it is.
	hooks := make(log.LevelHooks)
	hooks.Add(&globalFilters)
	hooks.Add(&writer.Hook{
		Writer:    os.Stderr,
		LogLevels: hookLevels,
	})
	log.SetOutput(io.Discard)
	log.StandardLogger().ReplaceHooks(hooks)
}

// GetEffectiveLogLevel reports the level currently enforced by the
// writer.Hook installed by InitLogging, which may differ from
// log.GetLevel() (pinned to Debug so every entry reaches the filter hook).
func GetEffectiveLogLevel() log.Level {
	level, err := log.ParseLevel(param.Logging_Level.GetString())
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// RegisterLoggingCallback subscribes to param.Logging_Level so that
// changing it at runtime (param.Set, or a reloaded config file) takes
// effect without restarting the process.
func RegisterLoggingCallback() {
	param.RegisterCallback(param.Logging_Level.Name, func() {
		applyFilterHook(GetEffectiveLogLevel())
	})
}

func AddFilter(newFilter *RegexpFilter) {
	filters := globalFilters.filters.Load()
	var newFilters []*RegexpFilter
	if filters == nil {
		newFilters = make([]*RegexpFilter, 0)
	} else {
		newFilters = append(newFilters, *filters...)
	}
	newFilters = append(newFilters, newFilter)
	globalFilters.filters.Store(&newFilters)
}

func RemoveFilter(name string) {
	filters := globalFilters.filters.Load()
	if filters == nil {
		return
	}
	result := make([]*RegexpFilter, 0, len(*filters))
	for _, filter := range *filters {
		if filter.Name != name {
			result = append(result, filter)
		}
	}
	globalFilters.filters.Store(&result)
}
