package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ThreadConfiguration controls the worker thread pool layout.
// The engine spawns NumaNodes * ThreadsPerNode workers, each locked to an
// OS thread for the lifetime of the engine.
type ThreadConfiguration struct {
	NumaNodes      int  `toml:"numa_nodes"`       // Number of thread groups (one per NUMA node)
	ThreadsPerNode int  `toml:"threads_per_node"` // Workers per group
	PinThreads     bool `toml:"pin_threads"`      // Set CPU affinity on Linux (no-op elsewhere)
}

// EpochConfiguration controls the global epoch clock driver.
type EpochConfiguration struct {
	AdvanceIntervalMS int `toml:"advance_interval_ms"` // How often the background driver ticks the epoch
}

// MemoryConfiguration controls the per-node record frame pools.
type MemoryConfiguration struct {
	FramesPerNode int `toml:"frames_per_node"` // Record frames pre-allocated per NUMA node
	FrameSize     int `toml:"frame_size"`      // Bytes per frame; also the max record payload size
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	EngineID uint64 `toml:"engine_id"`

	Thread     ThreadConfiguration     `toml:"thread"`
	Epoch      EpochConfiguration      `toml:"epoch"`
	Memory     MemoryConfiguration     `toml:"memory"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag     = flag.String("config", "sora.toml", "Path to configuration file")
	NumaNodesFlag      = flag.Int("numa-nodes", 0, "Number of NUMA node groups (overrides config)")
	ThreadsPerNodeFlag = flag.Int("threads-per-node", 0, "Worker threads per node (overrides config)")
)

// Default configuration
var Config = &Configuration{
	EngineID: 0, // Auto-generate

	Thread: ThreadConfiguration{
		NumaNodes:      1,
		ThreadsPerNode: runtime.NumCPU(),
		PinThreads:     true,
	},

	Epoch: EpochConfiguration{
		AdvanceIntervalMS: 20,
	},

	Memory: MemoryConfiguration{
		FramesPerNode: 1 << 16,
		FrameSize:     128,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: false,
		Address: "0.0.0.0",
		Port:    9090,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *NumaNodesFlag != 0 {
		Config.Thread.NumaNodes = *NumaNodesFlag
	}
	if *ThreadsPerNodeFlag != 0 {
		Config.Thread.ThreadsPerNode = *ThreadsPerNodeFlag
	}

	// Auto-generate engine ID if not set
	if Config.EngineID == 0 {
		var err error
		Config.EngineID, err = generateEngineID()
		if err != nil {
			return fmt.Errorf("failed to generate engine ID: %w", err)
		}
		log.Info().Uint64("engine_id", Config.EngineID).Msg("Auto-generated engine ID")
	}

	return nil
}

// generateEngineID creates a stable engine ID based on machine ID
func generateEngineID() (uint64, error) {
	id, err := machineid.ProtectedID("sora")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Thread.NumaNodes < 1 {
		return fmt.Errorf("invalid numa_nodes: %d", Config.Thread.NumaNodes)
	}
	if Config.Thread.ThreadsPerNode < 1 {
		return fmt.Errorf("invalid threads_per_node: %d", Config.Thread.ThreadsPerNode)
	}
	if Config.Epoch.AdvanceIntervalMS < 1 {
		return fmt.Errorf("invalid epoch advance_interval_ms: %d", Config.Epoch.AdvanceIntervalMS)
	}
	if Config.Memory.FramesPerNode < 1 {
		return fmt.Errorf("invalid frames_per_node: %d", Config.Memory.FramesPerNode)
	}
	if Config.Memory.FrameSize < 8 {
		return fmt.Errorf("frame_size too small: %d", Config.Memory.FrameSize)
	}
	if Config.Prometheus.Enabled {
		if Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535 {
			return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
		}
	}
	return nil
}
