package config

const (
	defaultDataDir             = "~/.local/share/lockbox/data"
	defaultMountDir            = "~/.local/share/lockbox/mnt"
	defaultStateDir            = "~/.local/share/lockbox/state"
	defaultLogDir              = "~/.local/share/lockbox/logs"
	defaultAPIBind             = "127.0.0.1:7490"
	defaultGocryptfsBinary     = "gocryptfs"
	defaultFusermountBinary    = "fusermount"
	defaultMountTimeoutSeconds = 30
	defaultFFmpegBinary        = "ffmpeg"
	defaultFFprobeBinary       = "ffprobe"
	defaultTranscodeTimeout    = 600
	defaultTranscodeWorkers    = 2
	defaultTranscodeQueueSize  = 64
	defaultImageMaxWidth       = 1920
	defaultReapIntervalSeconds = 60
	defaultMaxChunkBytes       = 64 << 20
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			MountDir: defaultMountDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Cryptfs: Cryptfs{
			GocryptfsBinary:     defaultGocryptfsBinary,
			FusermountBinary:    defaultFusermountBinary,
			MountTimeoutSeconds: defaultMountTimeoutSeconds,
		},
		Transcode: Transcode{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			TimeoutSeconds: defaultTranscodeTimeout,
			Concurrency:    defaultTranscodeWorkers,
			QueueSize:      defaultTranscodeQueueSize,
			ImageMaxWidth:  defaultImageMaxWidth,
		},
		Uploads: Uploads{
			ReapIntervalSeconds: defaultReapIntervalSeconds,
			MaxChunkBytes:       defaultMaxChunkBytes,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
