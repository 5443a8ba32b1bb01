package main

import "time"

// GlobalFlags are the persistent flags of the root command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// StartFlags serve both start and restart.
type StartFlags struct {
	Key  string
	Wait time.Duration
}

type LogsFlags struct {
	Key   string
	Lines int
}

// AutoStartFlags keeps Enabled raw so the command can report a parse error.
type AutoStartFlags struct {
	Key     string
	Enabled string
}

type ServeFlags struct {
	ConfigPath string
	Listen     string
}
