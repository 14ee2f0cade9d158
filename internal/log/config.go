package log

// Default pattern and time layout used when the configuration leaves them
// empty.
const (
	DefaultPattern = "%time [%level] %msg %field %caller\n"
	DefaultTime    = "2006-01-02 15:04:05.000"
)

// LoggerConfig configures the process logger.
type LoggerConfig struct {
	Pattern string            `mapstructure:"pattern" yaml:"pattern"`
	Time    string            `mapstructure:"time" yaml:"time"`
	Level   string            `mapstructure:"level" yaml:"level"`
	File    FileAppenderOpt   `mapstructure:"file" yaml:"file"`
	Stdout  *bool             `mapstructure:"stdout" yaml:"stdout,omitempty"`
	Fields  map[string]string `mapstructure:"fields" yaml:"fields,omitempty"`
}

// FileAppenderOpt configures the rotating file appender. An empty Filename
// disables it.
type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

func (c *LoggerConfig) stdout() bool {
	return c.Stdout == nil || *c.Stdout
}
