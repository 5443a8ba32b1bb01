package supervisor

import "time"

// Options tunes the controller. Zero durations fall back to the defaults,
// except UnhealthyGrace where zero disables the confirmation re-probe.
type Options struct {
	PollInterval      time.Duration
	ProbeTimeout      time.Duration
	StartupTimeout    time.Duration
	HealthInterval    time.Duration
	ShutdownGrace     time.Duration
	DiscoveryTimeout  time.Duration
	DiscoveryInterval time.Duration
	BulkStartWait     time.Duration
	// UnhealthyGrace is the delay before a failed health check is confirmed
	// by a second probe.
	UnhealthyGrace time.Duration
	RestartDelay   time.Duration
	MaxRestarts    int
	RestartWindow  time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval:      15 * time.Second,
		ProbeTimeout:      5 * time.Second,
		StartupTimeout:    30 * time.Second,
		HealthInterval:    time.Second,
		ShutdownGrace:     5 * time.Second,
		DiscoveryTimeout:  30 * time.Second,
		DiscoveryInterval: time.Second,
		BulkStartWait:     35 * time.Second,
		UnhealthyGrace:    2 * time.Second,
		RestartDelay:      time.Second,
		MaxRestarts:       3,
		RestartWindow:     10 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	set := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	set(&o.PollInterval, d.PollInterval)
	set(&o.ProbeTimeout, d.ProbeTimeout)
	set(&o.StartupTimeout, d.StartupTimeout)
	set(&o.HealthInterval, d.HealthInterval)
	set(&o.ShutdownGrace, d.ShutdownGrace)
	set(&o.DiscoveryTimeout, d.DiscoveryTimeout)
	set(&o.DiscoveryInterval, d.DiscoveryInterval)
	set(&o.BulkStartWait, d.BulkStartWait)
	set(&o.RestartWindow, d.RestartWindow)
	if o.RestartDelay < 0 {
		o.RestartDelay = 0
	}
	if o.UnhealthyGrace < 0 {
		o.UnhealthyGrace = 0
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = d.MaxRestarts
	}
	return o
}
