package main

type Settings struct {
	Port        int    `env:"PORT,default=8000"`
	BasePath    string `env:"BASE_PATH,default=/realtime"`
	LogEncoding string `env:"LOG_ENCODING,default=console"`

	JWTSecret string   `env:"JWT_SECRET"`
	APIKeys   []string `env:"API_KEYS"`

	HeartbeatIntervalSeconds int `env:"HEARTBEAT_INTERVAL_SECONDS,default=30"`
	SweepIntervalSeconds     int `env:"SWEEP_INTERVAL_SECONDS,default=60"`
	HeartbeatTimeoutSeconds  int `env:"HEARTBEAT_TIMEOUT_SECONDS,default=90"`

	ReadLimitBytes int64 `env:"READ_LIMIT_BYTES,default=65536"`
	SendBufferSize int   `env:"SEND_BUFFER_SIZE,default=256"`
}
