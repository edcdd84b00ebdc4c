package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"padbridge/internal/config"
	svc "padbridge/internal/observability/pprof"
)

// mapPprofConfig converts the pprof section into the service config,
// refusing combinations the server would refuse at bind time. Catching
// them here keeps a bad reload from ever being committed.
func mapPprofConfig(cfg *Config) (svc.Config, error) {
	if cfg == nil {
		return svc.Config{}, nil
	}
	pc := cfg.Pprof

	rates := map[string]int{
		"pprof.mutex_profile_fraction": pc.MutexProfileFraction,
		"pprof.block_profile_rate":     pc.BlockProfileRate,
		"pprof.mem_profile_rate":       pc.MemProfileRate,
	}
	for name, rate := range rates {
		if rate < 0 {
			return svc.Config{}, fmt.Errorf("%s must be >= 0", name)
		}
	}

	readTO, err := config.ParseDurationOrDefault("pprof.read_timeout", pc.ReadTimeout, 5*time.Second)
	if err != nil {
		return svc.Config{}, err
	}
	// Zero keeps writes unbounded; CPU profiles stream for their whole window.
	writeTO, err := config.ParseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return svc.Config{}, err
	}
	idleTO, err := config.ParseDurationOrDefault("pprof.idle_timeout", pc.IdleTimeout, 120*time.Second)
	if err != nil {
		return svc.Config{}, err
	}

	out := svc.Config{
		Enabled:       pc.Enabled,
		Addr:          strings.TrimSpace(pc.Addr),
		Prefix:        strings.TrimSpace(pc.Prefix),
		Token:         strings.TrimSpace(pc.Token),
		AllowInsecure: pc.AllowInsecure,

		ReadTimeout:  readTO,
		WriteTimeout: writeTO,
		IdleTimeout:  idleTO,

		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
		MemProfileRate:       pc.MemProfileRate,
	}
	if out.Addr == "" {
		out.Addr = "127.0.0.1:6060"
	}
	if out.Prefix == "" {
		out.Prefix = "/debug/pprof/"
	}

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return svc.Config{}, fmt.Errorf("pprof.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if out.Token == "" && !out.AllowInsecure && !isLoopbackAddr(out.Addr) {
			return svc.Config{}, fmt.Errorf("pprof: non-loopback %s needs a token or allow_insecure=true", out.Addr)
		}
	}
	return out, nil
}

func isLoopbackAddr(addr string) bool {
	return svc.LoopbackAddr(addr)
}
