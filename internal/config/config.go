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

// Package config parses the smax-postgres configuration file grammar
// (spec §4.1) and holds the scalar settings plus the three rule lists
// that the rule engine consults.
package config

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Time constants mirroring smax-postgres.h.
const (
	Minute = 60
	Hour   = 60 * Minute
	Day    = 24 * Hour
	Week   = 7 * Day
	Year   = 366 * Day // leap year, as the original defines it

	DefaultMaxAge  = 90 * Day
	DefaultMaxSize = 1024

	minUpdateInterval   = Minute
	minSnapshotInterval = Minute
	minMaxSize          = 8
	minMaxAge           = Day
)

// Config holds the full set of user-configurable settings for the
// daemon: connection parameters for both the source store and the SQL
// server, timing, size limits, and the rule lists consulted by the
// rule engine.
type Config struct {
	SMAXServer string
	SQLServer  string
	SQLDB      string
	SQLUser    string
	SQLAuth    string

	UseHyperTables bool

	// UpdateIntervalSeconds and SnapshotIntervalSeconds are <=0 when
	// disabled.
	UpdateIntervalSeconds   int
	SnapshotIntervalSeconds int

	MaxSizeBytes int
	MaxAgeSeconds int

	Rules RuleSet

	// DescriptorCacheLimit bounds the number of entries the table
	// descriptor cache will hold in memory (Design Notes: "enforce a
	// configured ceiling if needed"). Defaults to CACHE_SIZE (200000).
	DescriptorCacheLimit int

	Debug bool
}

// DefaultConfigPath is the config file location assumed when none is
// given on the command line, matching SMAXPQ_DEFAULT_CONFIG.
const DefaultConfigPath = "/etc/smax-postgress.cfg"

// DefaultDescriptorCacheLimit is CACHE_SIZE in the original source.
const DefaultDescriptorCacheLimit = 200_000

// New returns a Config populated with defaults, as if no config file
// had been read.
func New() *Config {
	c := &Config{
		SMAXServer:              "localhost",
		SQLServer:               "localhost",
		SQLDB:                   "engdb",
		SQLUser:                 "loggerserver",
		UpdateIntervalSeconds:   Minute,
		SnapshotIntervalSeconds: Minute,
		MaxAgeSeconds:           DefaultMaxAge,
		MaxSizeBytes:            DefaultMaxSize,
		DescriptorCacheLimit:    DefaultDescriptorCacheLimit,
	}
	c.Rules.Reset()
	return c
}

// Load reads and parses the config file at path into a fresh Config
// seeded with defaults. Per spec §4.1/R2, loading always starts from a
// clean rule set (the two hardcoded exclude patterns are re-added
// before the file is read), so reloading the same file is idempotent.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config file %s", path)
	}
	defer f.Close()

	c := New()
	if err := c.parse(f, path); err != nil {
		return nil, err
	}
	return c, nil
}

// parse reads the §4.1 grammar: lines are "option arg" or
// "option = arg"; '#' starts a comment; unrecognized or invalid lines
// are warned about and skipped.
func (c *Config) parse(r io.Reader, path string) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		option, arg, ok := splitOption(line)
		if !ok {
			log.Warnf("[%s:%d] missing option argument: %q", path, lineNo, line)
			continue
		}
		option = strings.ToLower(option)

		if err := c.applyOption(option, arg); err != nil {
			log.Warnf("[%s:%d] %s: %v", path, lineNo, option, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "reading config file %s", path)
	}
	return nil
}

// splitOption splits a grammar line into its option and argument,
// accepting both "option arg" and "option = arg" forms.
func splitOption(line string) (option, arg string, ok bool) {
	line = strings.TrimSpace(line)
	fields := strings.SplitN(line, "=", 2)
	if len(fields) == 2 && !strings.ContainsAny(strings.TrimSpace(fields[0]), " \t") {
		option = strings.TrimSpace(fields[0])
		arg = strings.TrimSpace(fields[1])
	} else {
		i := strings.IndexAny(line, " \t")
		if i < 0 {
			return "", "", false
		}
		option = line[:i]
		arg = strings.TrimSpace(line[i:])
	}
	if option == "" || arg == "" {
		return "", "", false
	}
	return option, arg, true
}

func (c *Config) applyOption(option, arg string) error {
	switch option {
	case "smax_server":
		c.SMAXServer = arg
	case "sql_server":
		c.SQLServer = arg
	case "sql_db":
		c.SQLDB = arg
	case "sql_user":
		c.SQLUser = arg
	case "sql_auth":
		c.SQLAuth = arg
	case "use_hyper_tables":
		b, err := parseBool(arg)
		if err != nil {
			return err
		}
		c.UseHyperTables = b
	case "update_interval":
		t, err := ParseTimeSpec(arg)
		if err != nil {
			return err
		}
		if t >= 0 && t < minUpdateInterval {
			return errors.Errorf("below minimum value: %s", arg)
		}
		c.UpdateIntervalSeconds = int(math.Round(t))
	case "snapshot_interval":
		t, err := ParseTimeSpec(arg)
		if err != nil {
			return err
		}
		if t >= 0 && t < minSnapshotInterval {
			return errors.Errorf("below minimum value: %s", arg)
		}
		c.SnapshotIntervalSeconds = int(math.Round(t))
	case "max_size":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return errors.Wrap(err, "invalid argument")
		}
		if n < minMaxSize {
			return errors.Errorf("below limit (%d): %s", minMaxSize, arg)
		}
		c.MaxSizeBytes = n
	case "max_age":
		t, err := ParseTimeSpec(arg)
		if err != nil {
			return err
		}
		if t >= 0 && t < minMaxAge {
			return errors.Errorf("below limit (%d): %s", minMaxAge, arg)
		}
		c.MaxAgeSeconds = int(math.Ceil(t))
	case "exclude":
		return c.Rules.AddExclude(arg, true)
	case "include":
		return c.Rules.AddExclude(arg, false)
	case "always":
		return c.Rules.AddForce(arg)
	case "sample":
		return c.applySample(arg)
	default:
		return errors.New("unrecognized option")
	}
	return nil
}

func (c *Config) applySample(arg string) error {
	fields := strings.Fields(arg)
	if len(fields) < 2 {
		return errors.New("sample: too few arguments")
	}
	step, err := strconv.Atoi(fields[0])
	if err != nil {
		return errors.Wrap(err, "sample: invalid step argument")
	}
	if step < 1 {
		return errors.Errorf("sample: invalid step argument: %d", step)
	}
	return c.Rules.AddSampling(fields[1], step)
}

// parseBool implements the re-specified boolean grammar from the Open
// Questions in Design Notes: "true"/"1" -> true, "false"/"0" -> false,
// anything else is a warning (the original's `strcmp(...) ||
// strcmp(...)` always took the true branch; that bug is not
// reproduced).
func parseBool(arg string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, errors.Errorf("expected boolean, got: %s", arg)
	}
}

// ParseTimeSpec parses a time specification of the form
// "<number>[smhdwy]", or the literal "none" meaning disabled (-1).
func ParseTimeSpec(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "none") {
		return -1, nil
	}
	if s == "" {
		return math.NaN(), errors.New("empty time spec")
	}

	unit := byte('s')
	numPart := s
	last := s[len(s)-1]
	if last < '0' || last > '9' {
		unit = last
		numPart = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(numPart), 64)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "invalid time spec")
	}

	switch unit {
	case 's':
		return value, nil
	case 'm':
		return value * Minute, nil
	case 'h':
		return value * Hour, nil
	case 'd':
		return value * Day, nil
	case 'w':
		return value * Week, nil
	case 'y':
		return value * Year, nil
	default:
		return math.NaN(), errors.Errorf("unknown time unit %q", unit)
	}
}

// Validate enforces the invariants spec §4.1 requires at startup:
// update_interval and snapshot_interval are each either disabled (<=0)
// or at least their respective minimums, max_size and max_age meet their
// floors, and at least one of the two intervals must be enabled.
func (c *Config) Validate() error {
	if c.UpdateIntervalSeconds > 0 && c.UpdateIntervalSeconds < minUpdateInterval {
		return errors.Errorf("update_interval must be >= %ds", minUpdateInterval)
	}
	if c.SnapshotIntervalSeconds > 0 && c.SnapshotIntervalSeconds < minSnapshotInterval {
		return errors.Errorf("snapshot_interval must be >= %ds", minSnapshotInterval)
	}
	if c.MaxSizeBytes < minMaxSize {
		return errors.Errorf("max_size must be >= %d", minMaxSize)
	}
	if c.MaxAgeSeconds < minMaxAge {
		return errors.Errorf("max_age must be >= %d", minMaxAge)
	}
	if c.UpdateIntervalSeconds <= 0 && c.SnapshotIntervalSeconds <= 0 {
		return errors.New("both updates and snapshots are disabled: nothing to do")
	}
	return nil
}

// EffectiveUpdateInterval returns the update interval to sleep on,
// falling back to the snapshot interval when updates are disabled
// (getUpdateInterval() in logger-config.c).
func (c *Config) EffectiveUpdateInterval() time.Duration {
	if c.UpdateIntervalSeconds > 0 {
		return time.Duration(c.UpdateIntervalSeconds) * time.Second
	}
	return time.Duration(c.SnapshotIntervalSeconds) * time.Second
}
